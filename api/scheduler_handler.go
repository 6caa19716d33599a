package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GET /healthz
func (a *API) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /readyz
func (a *API) readyz(c *gin.Context) {
	if err := a.eng.Store().Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now().UTC()})
}

// GET /v1/scheduler
func (a *API) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.eng.Status(c.Request.Context()))
}

// POST /v1/scheduler/wake
func (a *API) wake(c *gin.Context) {
	a.eng.Wake()
	c.Status(http.StatusAccepted)
}
