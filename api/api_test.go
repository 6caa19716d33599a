package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/api"
	"github.com/xraph/periodic/engine"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/notify"
	"github.com/xraph/periodic/store/memory"
	"github.com/xraph/periodic/task"
)

func init() { gin.SetMode(gin.TestMode) }

type harness struct {
	eng   *engine.Engine
	store *memory.Store
	h     http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memory.New()
	cfg := periodic.DefaultConfig()
	cfg.Concurrency = 0
	eng, err := engine.Build(engine.WithStore(s), engine.WithConfig(cfg))
	require.NoError(t, err)
	return &harness{eng: eng, store: s, h: api.New(eng).Handler()}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (h *harness) create(t *testing.T, name string) *task.Definition {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"name":      name,
		"schedule":  "*/5 * * * *",
		"task_type": "report",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[task.Definition](t, rec)
	return &d
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":true`)
}

func TestRequestID(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	generated := rec.Header().Get(api.RequestIDHeader)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err, "expected a generated UUID, got %q", generated)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(api.RequestIDHeader, "caller-123")
	rec = httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-123", rec.Header().Get(api.RequestIDHeader))
}

func TestCreateTask(t *testing.T) {
	h := newHarness(t)
	d := h.create(t, "nightly")

	assert.False(t, d.ID.IsNil())
	assert.Equal(t, "nightly", d.Name)
	assert.True(t, d.Enabled)
	assert.NotNil(t, d.NextDueAt)
	assert.Equal(t, "default", d.Queue)
}

func TestCreateTask_Errors(t *testing.T) {
	h := newHarness(t)
	h.create(t, "dup")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing name", map[string]any{"schedule": "@hourly", "task_type": "x"}, http.StatusBadRequest},
		{"missing type", map[string]any{"name": "a", "schedule": "@hourly"}, http.StatusBadRequest},
		{"duplicate", map[string]any{"name": "dup", "schedule": "@hourly", "task_type": "x"}, http.StatusConflict},
		{"bad json", "not-an-object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestCreateTask_InvalidScheduleStored(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"name": "broken", "schedule": "not a cron", "task_type": "x",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	d := decode[task.Definition](t, rec)
	assert.NotEmpty(t, d.ScheduleError)
	assert.Nil(t, d.NextDueAt)
}

func TestGetTask(t *testing.T) {
	h := newHarness(t)
	d := h.create(t, "nightly")

	rec := h.do(t, http.MethodGet, "/v1/tasks/"+d.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, d.ID, decode[task.Definition](t, rec).ID)

	rec = h.do(t, http.MethodGet, "/v1/tasks/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/tasks/ptask_01h2xcejqtf2nbrexx3vqjhp41", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	h := newHarness(t)
	h.create(t, "b")
	a := h.create(t, "a")
	h.create(t, "c")

	rec := h.do(t, http.MethodPost, "/v1/tasks/"+a.ID.String()+"/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	type list struct {
		Tasks []task.Definition `json:"tasks"`
	}

	all := decode[list](t, h.do(t, http.MethodGet, "/v1/tasks", nil))
	require.Len(t, all.Tasks, 3)
	assert.Equal(t, "a", all.Tasks[0].Name)

	enabled := decode[list](t, h.do(t, http.MethodGet, "/v1/tasks?enabled=true", nil))
	require.Len(t, enabled.Tasks, 2)
	assert.Equal(t, "b", enabled.Tasks[0].Name)

	page := decode[list](t, h.do(t, http.MethodGet, "/v1/tasks?limit=1&offset=1", nil))
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, "b", page.Tasks[0].Name)

	rec = h.do(t, http.MethodGet, "/v1/tasks?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTask(t *testing.T) {
	h := newHarness(t)
	d := h.create(t, "nightly")

	rec := h.do(t, http.MethodPatch, "/v1/tasks/"+d.ID.String(), map[string]any{
		"queue":    "reports",
		"priority": 7,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[task.Definition](t, rec)
	assert.Equal(t, "reports", got.Queue)
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, "*/5 * * * *", got.Schedule)

	rec = h.do(t, http.MethodPatch, "/v1/tasks/"+d.ID.String(), map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnableDisable(t *testing.T) {
	h := newHarness(t)
	d := h.create(t, "nightly")
	path := "/v1/tasks/" + d.ID.String()

	rec := h.do(t, http.MethodPost, path+"/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[task.Definition](t, rec).Enabled)

	rec = h.do(t, http.MethodPost, path+"/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[task.Definition](t, rec).Enabled)
}

func TestDeleteTask(t *testing.T) {
	h := newHarness(t)
	d := h.create(t, "nightly")
	path := "/v1/tasks/" + d.ID.String()

	rec := h.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("report", []byte(`{}`), job.WithQueue("reports"))
	require.NoError(t, h.store.EnqueueJob(ctx, j))

	type list struct {
		Jobs []job.Job `json:"jobs"`
	}

	got := decode[list](t, h.do(t, http.MethodGet, "/v1/jobs", nil))
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, j.ID, got.Jobs[0].ID)

	got = decode[list](t, h.do(t, http.MethodGet, "/v1/jobs?state=pending&queue=other", nil))
	assert.Empty(t, got.Jobs)

	rec := h.do(t, http.MethodGet, "/v1/jobs?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/jobs/"+j.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reports", decode[job.Job](t, rec).Queue)

	rec = h.do(t, http.MethodGet, "/v1/jobs/job_01h2xcejqtf2nbrexx3vqjhp41", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerStatusAndWake(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[engine.Status](t, rec)
	assert.Equal(t, h.eng.InstanceID(), st.InstanceID)
	assert.Equal(t, "idle", st.State)

	rec = h.do(t, http.MethodPost, notify.WakePath, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHTTPClientTargetsWakeRoute(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.h)
	defer srv.Close()

	err := notify.NewHTTPClient().BroadcastWake(context.Background(), []string{srv.URL})
	assert.NoError(t, err)
}
