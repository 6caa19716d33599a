package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/periodic/engine"
	"github.com/xraph/periodic/job"
)

// Built-in task types available to definitions run by periodicd.
const (
	taskTypeLog     = "periodic.log"
	taskTypeWebhook = "periodic.webhook"
)

type logArgs struct {
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

type webhookArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// registerBuiltins registers the built-in handlers on eng.
func registerBuiltins(eng *engine.Engine, logger *slog.Logger, client *http.Client) {
	engine.Register(eng, job.NewDefinition(taskTypeLog, logHandler(logger)))
	engine.Register(eng, job.NewDefinition(taskTypeWebhook, webhookHandler(client),
		job.WithMaxRetries(3),
		job.WithTimeout(30*time.Second),
	))
}

func logHandler(logger *slog.Logger) func(context.Context, logArgs) error {
	return func(ctx context.Context, args logArgs) error {
		attrs := []slog.Attr{}
		if j, ok := job.FromContext(ctx); ok {
			attrs = append(attrs,
				slog.String("job_id", j.ID.String()),
				slog.String("task_id", j.TaskID.String()),
			)
		}
		for k, v := range args.Fields {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, args.Message, attrs...)
		return nil
	}
}

func webhookHandler(client *http.Client) func(context.Context, webhookArgs) error {
	return func(ctx context.Context, args webhookArgs) error {
		if args.URL == "" {
			return errors.New("webhook: url is required")
		}
		method := args.Method
		if method == "" {
			method = http.MethodPost
		}

		req, err := http.NewRequestWithContext(ctx, method, args.URL, bytes.NewReader(args.Body))
		if err != nil {
			return fmt.Errorf("webhook: build request: %w", err)
		}
		if len(args.Body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range args.Headers {
			req.Header.Set(k, v)
		}
		if j, ok := job.FromContext(ctx); ok {
			req.Header.Set("X-Periodic-Job-ID", j.ID.String())
			req.Header.Set("X-Periodic-Task-ID", j.TaskID.String())
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("webhook: %s %s: status %d", method, args.URL, resp.StatusCode)
		}
		return nil
	}
}
