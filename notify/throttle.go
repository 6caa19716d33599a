package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttled limits the broadcast rate of a wrapped Client. A broadcast
// that arrives while the limiter is exhausted is not dropped: one trailing
// broadcast is scheduled for when a token frees up, carrying the peers of
// the most recent call. Further calls while it is pending only replace the
// peer list.
type Throttled struct {
	next    Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	pending bool
	peers   []string
	timer   *time.Timer
	closed  bool
}

// NewThrottled wraps next with a limiter allowing one broadcast per every
// on average, with the given burst.
func NewThrottled(next Client, every time.Duration, burst int, logger *slog.Logger) *Throttled {
	if logger == nil {
		logger = slog.Default()
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(every), burst),
		logger:  logger,
	}
}

// BroadcastWake forwards immediately when a token is available and
// otherwise schedules a trailing broadcast.
func (t *Throttled) BroadcastWake(ctx context.Context, peers []string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if t.pending {
		t.peers = peers
		t.mu.Unlock()
		return nil
	}

	r := t.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		t.mu.Unlock()
		return t.next.BroadcastWake(ctx, peers)
	}

	t.pending = true
	t.peers = peers
	t.timer = time.AfterFunc(delay, t.flush)
	t.mu.Unlock()
	return nil
}

// Close cancels a pending trailing broadcast. Later calls are dropped.
func (t *Throttled) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.pending = false
}

func (t *Throttled) flush() {
	t.mu.Lock()
	if !t.pending {
		t.mu.Unlock()
		return
	}
	peers := t.peers
	t.pending = false
	t.peers = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.next.BroadcastWake(ctx, peers); err != nil {
		t.logger.Warn("periodic: trailing wake broadcast failed",
			slog.Int("peers", len(peers)),
			slog.String("error", err.Error()),
		)
	}
}
