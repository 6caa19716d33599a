package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/backoff"
	"github.com/xraph/periodic/ext"
	"github.com/xraph/periodic/id"
	mw "github.com/xraph/periodic/middleware"
	"github.com/xraph/periodic/notify"
	"github.com/xraph/periodic/queue"
	"github.com/xraph/periodic/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the backing store. Required.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithConfig sets the scheduler and worker configuration.
func WithConfig(cfg periodic.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		if l != nil {
			eng.logger = l
		}
	}
}

// WithInstanceID sets the identity used for the scheduler owner, the worker
// ID and the peer registry entry. It defaults to a fresh instance ID.
// Broadcast transports that filter their own messages should be built with
// the same ID.
func WithInstanceID(instanceID id.InstanceID) Option {
	return func(eng *Engine) {
		if !instanceID.IsNil() {
			eng.instanceID = instanceID
		}
	}
}

// WithAddress sets the base URL peers use to reach this instance's wake
// endpoint. Instances without an address are skipped by HTTP broadcasts.
func WithAddress(addr string) Option {
	return func(eng *Engine) { eng.address = addr }
}

// WithNotifier sets the client used to broadcast wakes to peers. Without
// one, definition changes only wake the local scheduler.
func WithNotifier(c notify.Client) Option {
	return func(eng *Engine) { eng.notifier = c }
}

// WithListener adds a wake listener. Every message it receives calls
// NotifyChange on the local scheduler.
func WithListener(l notify.Listener) Option {
	return func(eng *Engine) { eng.listeners = append(eng.listeners, l) }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pending = append(eng.pending, e) }
}

// WithMiddleware adds middleware to the engine's chain. Custom middleware
// run inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the job retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}
