// Package api exposes the periodic engine over HTTP using gin.
//
// Routes:
//
//	GET    /healthz                     liveness
//	GET    /readyz                      store connectivity
//	GET    /v1/tasks                    list definitions
//	POST   /v1/tasks                    create a definition
//	GET    /v1/tasks/:taskId            get a definition
//	PATCH  /v1/tasks/:taskId            update selected fields
//	DELETE /v1/tasks/:taskId            delete a definition
//	POST   /v1/tasks/:taskId/enable     enable a definition
//	POST   /v1/tasks/:taskId/disable    disable a definition
//	GET    /v1/jobs                     list jobs by state
//	GET    /v1/jobs/:jobId              get a job
//	GET    /v1/scheduler                scheduler status
//	POST   /v1/scheduler/wake           wake the local scheduler
//
// The wake route is the target of notify.HTTPClient broadcasts from peers.
// Every response carries an X-Request-ID header, echoed from the request
// when present.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xraph/periodic/engine"
	"github.com/xraph/periodic/notify"
)

// API wires the HTTP handlers for one engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for request and error logging.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API for eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLog())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", a.healthz)
	r.GET("/readyz", a.readyz)

	v1 := r.Group("/v1")

	tasks := v1.Group("/tasks")
	tasks.GET("", a.listTasks)
	tasks.POST("", a.createTask)
	tasks.GET("/:taskId", a.getTask)
	tasks.PATCH("/:taskId", a.updateTask)
	tasks.DELETE("/:taskId", a.deleteTask)
	tasks.POST("/:taskId/enable", a.enableTask)
	tasks.POST("/:taskId/disable", a.disableTask)

	jobs := v1.Group("/jobs")
	jobs.GET("", a.listJobs)
	jobs.GET("/:jobId", a.getJob)

	v1.GET("/scheduler", a.schedulerStatus)
	r.POST(notify.WakePath, a.wake)
}

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

func (a *API) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Header(RequestIDHeader, rid)

		c.Next()
		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		a.logger.Warn("api: request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.String("request_id", rid),
		)
	}
}
