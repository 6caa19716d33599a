package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	j := job.New(taskTypeLog, nil, job.WithTaskID(id.NewTaskID()))
	ctx := job.NewContext(context.Background(), j)

	err := logHandler(logger)(ctx, logArgs{Message: "tick", Fields: map[string]any{"n": 1}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"tick"`)
	assert.Contains(t, out, `"job_id":"`+j.ID.String()+`"`)
	assert.Contains(t, out, `"task_id":"`+j.TaskID.String()+`"`)
	assert.Contains(t, out, `"n":1`)
}

func TestWebhookHandler(t *testing.T) {
	var (
		gotMethod string
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	j := job.New(taskTypeWebhook, nil, job.WithTaskID(id.NewTaskID()))
	ctx := job.NewContext(context.Background(), j)

	err := webhookHandler(srv.Client())(ctx, webhookArgs{
		URL:     srv.URL + "/hook",
		Headers: map[string]string{"X-Token": "secret"},
		Body:    json.RawMessage(`{"ok":true}`),
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.JSONEq(t, `{"ok":true}`, string(gotBody))
	assert.Equal(t, "secret", gotHeader.Get("X-Token"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, j.ID.String(), gotHeader.Get("X-Periodic-Job-ID"))
	assert.Equal(t, j.TaskID.String(), gotHeader.Get("X-Periodic-Task-ID"))
}

func TestWebhookHandler_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := webhookHandler(srv.Client())

	err := h(context.Background(), webhookArgs{URL: srv.URL, Method: http.MethodPut})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	err = h(context.Background(), webhookArgs{})
	assert.ErrorContains(t, err, "url is required")
}
