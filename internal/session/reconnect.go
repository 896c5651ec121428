package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// errNoSink is returned when no remote voice sink is configured.
var errNoSink = errors.New("session: no voice sink configured")

// Reconnector owns the remote voice connection and restores it with
// exponential backoff after an unexpected drop.
//
// Callers connect via [Reconnector.Connect] and start [Reconnector.Monitor]
// once. When the platform reports a drop ([Reconnector.NotifyDisconnect]) the
// monitor reconnects to the last target. [Reconnector.Disconnect] forgets the
// target so a deliberate leave is not undone.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	sink        VoiceSink
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(Target)

	mu           sync.Mutex
	target       Target
	monitoring   bool
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Sink is the remote voice connection.
	Sink VoiceSink

	// MaxRetries is the maximum number of reconnection attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection. May be nil.
	OnReconnect func(Target)
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		sink:         cfg.Sink,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect joins target and remembers it for reconnection.
func (r *Reconnector) Connect(ctx context.Context, target Target) error {
	if r.sink == nil {
		return errNoSink
	}
	if err := r.sink.Connect(ctx, target.GuildID, target.ChannelID); err != nil {
		return fmt.Errorf("session: connect voice: %w", err)
	}
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
	return nil
}

// Disconnect leaves the channel and forgets the target.
func (r *Reconnector) Disconnect() error {
	r.mu.Lock()
	r.target = Target{}
	r.mu.Unlock()
	if r.sink == nil {
		return nil
	}
	return r.sink.Disconnect()
}

// Connected reports whether the sink is connected.
func (r *Reconnector) Connected() bool {
	return r.sink != nil && r.sink.IsConnected()
}

// Target returns the channel the reconnector keeps joined.
func (r *Reconnector) Target() Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Monitor starts the reconnection loop in a background goroutine. Only the
// first call has effect.
func (r *Reconnector) Monitor(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.monitoring {
		return
	}
	r.monitoring = true
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the connection was lost. Safe to
// call multiple times; only the first call per reconnection cycle has
// effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop halts monitoring. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to rejoin the remembered target with exponential
// backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		target := r.Target()
		if target.IsZero() {
			return
		}

		slog.Info("session: attempting voice reconnection",
			"channel_id", target.ChannelID,
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		err := r.sink.Connect(ctx, target.GuildID, target.ChannelID)
		if err == nil {
			slog.Info("session: voice reconnected", "channel_id", target.ChannelID, "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(target)
			}
			return
		}

		slog.Warn("session: voice reconnection attempt failed",
			"channel_id", target.ChannelID,
			"attempt", attempt,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff = min(currentBackoff*2, r.maxBackoff)
	}

	slog.Error("session: voice reconnection failed after max retries", "max_retries", r.maxRetries)
}
