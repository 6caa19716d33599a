package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

const defaultJobLimit = 50

type listJobsResponse struct {
	Jobs []*job.Job `json:"jobs"`
}

// GET /v1/jobs?state=pending&queue=&task_id=&limit=&offset=
func (a *API) listJobs(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultJobLimit
	}

	state := job.StatePending
	if v := c.Query("state"); v != "" {
		state = job.State(v)
		if !validJobState(state) {
			badRequest(c, "invalid state")
			return
		}
	}

	opts := job.ListOpts{Limit: limit, Offset: offset, Queue: c.Query("queue")}
	if v := c.Query("task_id"); v != "" {
		taskID, err := id.ParseTaskID(v)
		if err != nil {
			badRequest(c, "invalid task_id")
			return
		}
		opts.TaskID = taskID
	}

	jobs, err := a.eng.Store().ListJobsByState(c.Request.Context(), state, opts)
	if err != nil {
		abortError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	c.JSON(http.StatusOK, listJobsResponse{Jobs: jobs})
}

// GET /v1/jobs/:jobId
func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, "invalid job id")
		return
	}
	j, err := a.eng.Store().GetJob(c.Request.Context(), jobID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func validJobState(s job.State) bool {
	switch s {
	case job.StatePending, job.StateRunning, job.StateCompleted,
		job.StateFailed, job.StateRetrying, job.StateCancelled:
		return true
	}
	return false
}
