package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/periodic"
)

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, periodic.ErrTaskNotFound),
		errors.Is(err, periodic.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, periodic.ErrDuplicateTask),
		errors.Is(err, periodic.ErrJobAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, periodic.ErrInvalidTask),
		errors.Is(err, periodic.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, periodic.ErrStoreUnavailable),
		errors.Is(err, periodic.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
