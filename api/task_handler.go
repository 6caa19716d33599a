package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/periodic/engine"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/task"
)

type listTasksResponse struct {
	Tasks []*task.Definition `json:"tasks"`
}

// GET /v1/tasks?enabled=true&limit=&offset=
func (a *API) listTasks(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	opts := task.ListOpts{
		Limit:       limit,
		Offset:      offset,
		EnabledOnly: c.Query("enabled") == "true",
	}
	tasks, err := a.eng.ListTasks(c.Request.Context(), opts)
	if err != nil {
		abortError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Definition{}
	}
	c.JSON(http.StatusOK, listTasksResponse{Tasks: tasks})
}

// POST /v1/tasks
func (a *API) createTask(c *gin.Context) {
	var spec engine.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := a.eng.CreateTask(c.Request.Context(), spec)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GET /v1/tasks/:taskId
func (a *API) getTask(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}
	d, err := a.eng.GetTask(c.Request.Context(), taskID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// PATCH /v1/tasks/:taskId
func (a *API) updateTask(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}
	var patch engine.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := a.eng.UpdateTask(c.Request.Context(), taskID, patch)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// DELETE /v1/tasks/:taskId
func (a *API) deleteTask(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}
	if err := a.eng.DeleteTask(c.Request.Context(), taskID); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/tasks/:taskId/enable
func (a *API) enableTask(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}
	d, err := a.eng.EnableTask(c.Request.Context(), taskID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// POST /v1/tasks/:taskId/disable
func (a *API) disableTask(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}
	d, err := a.eng.DisableTask(c.Request.Context(), taskID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func taskIDParam(c *gin.Context) (id.TaskID, bool) {
	taskID, err := id.ParseTaskID(c.Param("taskId"))
	if err != nil {
		badRequest(c, "invalid task id")
		return id.Nil, false
	}
	return taskID, true
}

func pageParams(c *gin.Context) (limit, offset int, ok bool) {
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "invalid limit")
			return 0, 0, false
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "invalid offset")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
