package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/engine"
)

// fileConfig is the on-disk form of the daemon configuration. Durations are
// strings in time.ParseDuration syntax; empty means the library default.
type fileConfig struct {
	Listen          string          `yaml:"listen"`
	ShutdownTimeout string          `yaml:"shutdown_timeout"`
	Instance        instanceConfig  `yaml:"instance"`
	Store           storeConfig     `yaml:"store"`
	Notify          notifyConfig    `yaml:"notify"`
	Scheduler       schedulerConfig `yaml:"scheduler"`
	Worker          workerConfig    `yaml:"worker"`
	Log             logConfig       `yaml:"log"`
	Tasks           []taskConfig    `yaml:"tasks"`
}

type instanceConfig struct {
	// ID is an "inst_" identifier. Empty generates one per process.
	ID string `yaml:"id"`
	// Address is the base URL peers use for HTTP wakes.
	Address string `yaml:"address"`
}

type storeConfig struct {
	// Driver is one of memory, postgres, sqlite, redis.
	Driver string `yaml:"driver"`
	// DSN is a postgres connection string, a sqlite file path or a redis URL.
	DSN string `yaml:"dsn"`
	// AutoMigrate runs migrations before serving. Nil means true.
	AutoMigrate *bool `yaml:"auto_migrate"`
}

type notifyConfig struct {
	// Transport is one of none, http, redis, postgres.
	Transport string `yaml:"transport"`
	// DSN overrides the connection used by the redis and postgres
	// transports. Empty reuses the store connection when the drivers match.
	DSN     string `yaml:"dsn"`
	Channel string `yaml:"channel"`
	// Throttle is the minimum spacing between broadcasts. Empty disables
	// throttling.
	Throttle string `yaml:"throttle"`
	Burst    int    `yaml:"burst"`
	Timeout  string `yaml:"timeout"`
}

type schedulerConfig struct {
	MaxPollInterval     string `yaml:"max_poll_interval"`
	ClaimLockTimeout    string `yaml:"claim_lock_timeout"`
	AllowOverlapDefault bool   `yaml:"allow_overlap_default"`
	BackoffInitial      string `yaml:"backoff_initial"`
}

type workerConfig struct {
	// Concurrency nil keeps the default; zero runs a scheduler-only node.
	Concurrency       *int     `yaml:"concurrency"`
	Queues            []string `yaml:"queues"`
	PollInterval      string   `yaml:"poll_interval"`
	HeartbeatInterval string   `yaml:"heartbeat_interval"`
	StaleJobThreshold string   `yaml:"stale_job_threshold"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// taskConfig declares a definition to create at startup when no
// definition with the same name exists.
type taskConfig struct {
	Name         string         `yaml:"name"`
	Schedule     string         `yaml:"schedule"`
	Timezone     string         `yaml:"timezone"`
	TaskType     string         `yaml:"task_type"`
	Args         map[string]any `yaml:"args"`
	Queue        string         `yaml:"queue"`
	Priority     int            `yaml:"priority"`
	AllowOverlap *bool          `yaml:"allow_overlap"`
	Enabled      *bool          `yaml:"enabled"`
}

// defaultFileConfig is the configuration used when no file is given.
func defaultFileConfig() fileConfig {
	return fileConfig{
		Listen: ":8080",
		Store:  storeConfig{Driver: "memory"},
		Notify: notifyConfig{Transport: "none"},
		Log:    logConfig{Level: "info", Format: "json"},
	}
}

// loadConfig reads path (when non-empty) over the defaults and applies
// environment overrides from getenv.
func loadConfig(path string, getenv func(string) string) (fileConfig, error) {
	cfg := defaultFileConfig()

	if path == "" {
		path = getenv("PERIODIC_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeConfig(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func decodeConfig(data []byte, cfg *fileConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *fileConfig, getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set("PERIODIC_LISTEN", &cfg.Listen)
	set("PERIODIC_INSTANCE_ID", &cfg.Instance.ID)
	set("PERIODIC_ADDRESS", &cfg.Instance.Address)
	set("PERIODIC_STORE_DRIVER", &cfg.Store.Driver)
	set("PERIODIC_STORE_DSN", &cfg.Store.DSN)
	set("PERIODIC_NOTIFY", &cfg.Notify.Transport)
	set("PERIODIC_NOTIFY_DSN", &cfg.Notify.DSN)
	set("PERIODIC_LOG_LEVEL", &cfg.Log.Level)
	set("PERIODIC_LOG_FORMAT", &cfg.Log.Format)

	if v := strings.TrimSpace(getenv("PERIODIC_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PERIODIC_CONCURRENCY: invalid integer %q", v)
		}
		cfg.Worker.Concurrency = &n
	}
	if v := strings.TrimSpace(getenv("PERIODIC_QUEUES")); v != "" {
		cfg.Worker.Queues = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c fileConfig) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite", "redis":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	switch c.Notify.Transport {
	case "", "none", "http":
	case "redis", "postgres":
		if c.Notify.DSN == "" && c.Store.Driver != c.Notify.Transport {
			return fmt.Errorf("notify.dsn is required for transport %q with store driver %q",
				c.Notify.Transport, c.Store.Driver)
		}
	default:
		return fmt.Errorf("notify.transport: unknown transport %q", c.Notify.Transport)
	}

	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
	}
	return nil
}

// periodicConfig converts the scheduler and worker sections into a
// periodic.Config over the library defaults.
func (c fileConfig) periodicConfig() (periodic.Config, error) {
	pc := periodic.DefaultConfig()
	pc.AllowOverlapDefault = c.Scheduler.AllowOverlapDefault

	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"scheduler.max_poll_interval", c.Scheduler.MaxPollInterval, &pc.MaxPollInterval},
		{"scheduler.claim_lock_timeout", c.Scheduler.ClaimLockTimeout, &pc.ClaimLockTimeout},
		{"scheduler.backoff_initial", c.Scheduler.BackoffInitial, &pc.BackoffInitial},
		{"worker.poll_interval", c.Worker.PollInterval, &pc.PollInterval},
		{"worker.heartbeat_interval", c.Worker.HeartbeatInterval, &pc.HeartbeatInterval},
		{"worker.stale_job_threshold", c.Worker.StaleJobThreshold, &pc.StaleJobThreshold},
		{"shutdown_timeout", c.ShutdownTimeout, &pc.ShutdownTimeout},
	}
	for _, f := range fields {
		d, err := durationOrDefault(f.path, f.raw, *f.dst)
		if err != nil {
			return pc, err
		}
		*f.dst = d
	}

	if c.Worker.Concurrency != nil {
		pc.Concurrency = *c.Worker.Concurrency
	}
	if len(c.Worker.Queues) > 0 {
		pc.Queues = c.Worker.Queues
	}

	if err := pc.Validate(); err != nil {
		return pc, err
	}
	return pc, nil
}

// taskSpecs converts the declared tasks into engine specs.
func (c fileConfig) taskSpecs() ([]engine.TaskSpec, error) {
	specs := make([]engine.TaskSpec, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		spec := engine.TaskSpec{
			Name:         t.Name,
			Schedule:     t.Schedule,
			Timezone:     t.Timezone,
			TaskType:     t.TaskType,
			Queue:        t.Queue,
			Priority:     t.Priority,
			AllowOverlap: t.AllowOverlap,
			Enabled:      t.Enabled,
		}
		if len(t.Args) > 0 {
			raw, err := json.Marshal(t.Args)
			if err != nil {
				return nil, fmt.Errorf("tasks %q: encode args: %w", t.Name, err)
			}
			spec.Args = raw
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func durationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive", path)
	}
	return d, nil
}
