package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/periodic"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "periodicd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "none", cfg.Notify.Transport)

	pc, err := cfg.periodicConfig()
	require.NoError(t, err)
	assert.Equal(t, periodic.DefaultConfig(), pc)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
shutdown_timeout: 5s
instance:
  address: http://10.0.0.5:9090
store:
  driver: postgres
  dsn: postgres://localhost/periodic
notify:
  transport: postgres
  throttle: 500ms
  burst: 3
scheduler:
  max_poll_interval: 30s
  claim_lock_timeout: 2m
  allow_overlap_default: true
  backoff_initial: 250ms
worker:
  concurrency: 0
  queues: [default, reports]
  heartbeat_interval: 5s
  stale_job_threshold: 20s
log:
  level: debug
  format: text
tasks:
  - name: nightly-report
    schedule: "0 2 * * *"
    timezone: Europe/Berlin
    task_type: periodic.log
    args:
      message: nightly
      fields:
        kind: report
`)
	cfg, err := loadConfig(path, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "http://10.0.0.5:9090", cfg.Instance.Address)
	assert.Equal(t, "postgres", cfg.Notify.Transport)

	pc, err := cfg.periodicConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, pc.MaxPollInterval)
	assert.Equal(t, 2*time.Minute, pc.ClaimLockTimeout)
	assert.True(t, pc.AllowOverlapDefault)
	assert.Equal(t, 250*time.Millisecond, pc.BackoffInitial)
	assert.Equal(t, 0, pc.Concurrency)
	assert.Equal(t, []string{"default", "reports"}, pc.Queues)
	assert.Equal(t, 5*time.Second, pc.HeartbeatInterval)
	assert.Equal(t, 20*time.Second, pc.StaleJobThreshold)
	assert.Equal(t, 5*time.Second, pc.ShutdownTimeout)
	assert.Equal(t, time.Second, pc.PollInterval)

	specs, err := cfg.taskSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "nightly-report", specs[0].Name)
	assert.Equal(t, "Europe/Berlin", specs[0].Timezone)
	assert.JSONEq(t, `{"message":"nightly","fields":{"kind":"report"}}`, string(specs[0].Args))
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
worker:
  concurrency: 4
`)
	cfg, err := loadConfig(path, envMap(map[string]string{
		"PERIODIC_LISTEN":       ":7000",
		"PERIODIC_STORE_DRIVER": "redis",
		"PERIODIC_STORE_DSN":    "redis://localhost:6379/0",
		"PERIODIC_NOTIFY":       "redis",
		"PERIODIC_CONCURRENCY":  "8",
		"PERIODIC_QUEUES":       "a, b ,,c",
		"PERIODIC_LOG_FORMAT":   "text",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.DSN)
	assert.Equal(t, "redis", cfg.Notify.Transport)
	require.NotNil(t, cfg.Worker.Concurrency)
	assert.Equal(t, 8, *cfg.Worker.Concurrency)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Worker.Queues)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_ConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "listen: \":6000\"\n")
	cfg, err := loadConfig("", envMap(map[string]string{"PERIODIC_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Listen)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{"unknown field", "bogus: 1\n", nil, "bogus"},
		{"unknown driver", "store:\n  driver: etcd\n", nil, "unknown driver"},
		{"missing dsn", "store:\n  driver: sqlite\n", nil, "store.dsn is required"},
		{"unknown transport", "notify:\n  transport: carrier-pigeon\n", nil, "unknown transport"},
		{"notify needs dsn", "notify:\n  transport: redis\n", nil, "notify.dsn is required"},
		{"unnamed task", "tasks:\n  - schedule: \"@hourly\"\n", nil, "tasks[0]: name is required"},
		{"bad concurrency env", "", map[string]string{"PERIODIC_CONCURRENCY": "many"}, "PERIODIC_CONCURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := loadConfig(path, envMap(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestPeriodicConfig_Errors(t *testing.T) {
	cfg := defaultFileConfig()
	cfg.Scheduler.MaxPollInterval = "soon"
	_, err := cfg.periodicConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.max_poll_interval")

	cfg = defaultFileConfig()
	cfg.Scheduler.BackoffInitial = "-1s"
	_, err = cfg.periodicConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")

	cfg = defaultFileConfig()
	cfg.Worker.HeartbeatInterval = "1m"
	_, err = cfg.periodicConfig()
	assert.ErrorIs(t, err, periodic.ErrInvalidConfig)
}
