// Package ingest drives the notification to archive pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/listener"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/message"
	"github.com/ibs-source/tile-consumer/internal/tile"
)

var (
	// ErrRender wraps a failure of the render collaborator
	ErrRender = errors.New("render failed")
	// ErrPersist wraps a failure of the archive collaborator
	ErrPersist = errors.New("persist failed")
)

// Listener surfaces database notifications
type Listener interface {
	ConnectAndSubscribe(ctx context.Context) error
	WaitForNotification(ctx context.Context, timeout time.Duration) (*message.Notification, error)
}

// Renderer turns zoom groups into tile payloads, reporting per-tile failures in the result
type Renderer interface {
	Render(ctx context.Context, batchID string, groups []tile.ZoomGroup) ([]tile.Rendered, error)
}

// Archiver persists rendered tiles; failure is reported per call
type Archiver interface {
	WriteTiles(ctx context.Context, tiles []tile.Rendered) error
}

// Publisher announces persisted batches
type Publisher interface {
	PublishBatch(ctx context.Context, ev message.TileEvent) error
}

// DeadLetters records files that exhausted their retries
type DeadLetters interface {
	Append(path, reason string) error
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPublisher adds an event publisher
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publishers = append(o.publishers, p) }
}

// Orchestrator owns the listener and the retry ledger. Notifications are processed
// one at a time, each to completion before the next wait.
type Orchestrator struct {
	listener    Listener
	renderer    Renderer
	archiver    Archiver
	deadLetters DeadLetters
	publishers  []Publisher
	ledger      *retryLedger

	dirtyDir         string
	minZoom          uint8
	maxZoom          uint8
	maxRetries       int
	batchTimeout     time.Duration
	reconnectBackoff time.Duration
	processTimeout   time.Duration
	retryOnIdle      bool

	stats Stats
	log   *log.Logger
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// New creates an orchestrator
func New(
	l Listener, r Renderer, a Archiver, dl DeadLetters,
	cfg *config.Config, logger *log.Logger, opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		listener:         l,
		renderer:         r,
		archiver:         a,
		deadLetters:      dl,
		ledger:           newRetryLedger(cfg.Worker.MaxRetries),
		dirtyDir:         cfg.Files.DirtyTilesDir,
		minZoom:          cfg.Tiles.MinZoom,
		maxZoom:          cfg.Tiles.MaxZoom,
		maxRetries:       cfg.Worker.MaxRetries,
		batchTimeout:     cfg.Worker.BatchTimeout,
		reconnectBackoff: cfg.Worker.ReconnectBackoff,
		processTimeout:   cfg.Worker.ProcessTimeout,
		retryOnIdle:      cfg.Worker.RetryOnIdle,
		log:              logger,
		sleep:            sleepContext,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run subscribes and loops until ctx is cancelled. Only a failure of the initial
// subscription is returned as an error; every later failure is handled in the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("Starting ingestion orchestrator")

	if err := o.listener.ConnectAndSubscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	for {
		if ctx.Err() != nil {
			o.log.InfoWithFields(o.stats.fields(), "Shutting down ingestion orchestrator")
			return ctx.Err()
		}

		n, err := o.listener.WaitForNotification(ctx, o.batchTimeout)
		switch {
		case err == nil && n == nil:
			o.idle(ctx)
		case err == nil:
			o.handleNotification(ctx, n)
		case ctx.Err() != nil:
			// shutdown observed at the wait boundary
		default:
			o.reconnect(ctx, err)
		}
	}
}

// Stats returns the run counters. Call it from the goroutine that ran Run, or after Run returned.
func (o *Orchestrator) Stats() Stats {
	return o.stats
}

// idle emits the heartbeat and re-attempts files still in the ledger
func (o *Orchestrator) idle(ctx context.Context) {
	o.stats.Heartbeats++
	fields := o.stats.fields()
	fields["pending_retries"] = o.ledger.len()
	o.log.DebugWithFields(fields, "No notification within %s", o.batchTimeout)

	if !o.retryOnIdle {
		return
	}
	for _, path := range o.ledger.pending() {
		if ctx.Err() != nil {
			return
		}
		o.log.Debug("Retrying %s (attempt %d)", path, o.ledger.count(path)+1)
		o.process(ctx, path)
	}
}

func (o *Orchestrator) reconnect(ctx context.Context, cause error) {
	o.stats.Reconnects++
	if errors.Is(cause, listener.ErrConnectionLost) {
		o.log.Warn("Notification session lost: %v; reconnecting in %s", cause, o.reconnectBackoff)
	} else {
		o.log.Error("Waiting for notification failed: %v; reconnecting in %s", cause, o.reconnectBackoff)
	}

	if err := o.sleep(ctx, o.reconnectBackoff); err != nil {
		return
	}
	if err := o.listener.ConnectAndSubscribe(ctx); err != nil {
		o.log.Error("Reconnect failed: %v", err)
		return
	}
	o.log.Info("Reconnected to notification channel")
}

func (o *Orchestrator) handleNotification(ctx context.Context, n *message.Notification) {
	o.stats.Notifications++
	path, ok := o.resolvePath(n.Payload)
	if !ok {
		o.stats.Invalid++
		o.log.WarnWithFields(log.Fields{"channel": n.Channel, "pid": n.PID}, "Ignoring notification with empty payload")
		return
	}
	o.log.DebugWithFields(log.Fields{"channel": n.Channel, "pid": n.PID, "path": path}, "Notification received")
	o.process(ctx, path)
}

// resolvePath maps a payload to a file path; relative payloads are taken from the dirty-tile directory
func (o *Orchestrator) resolvePath(payload string) (string, bool) {
	p := strings.TrimSpace(payload)
	if p == "" {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(o.dirtyDir, p)
	}
	return filepath.Clean(p), true
}

// process runs one file through the pipeline and applies the retry policy.
// Processing is detached from ctx so a shutdown lets the current file finish.
func (o *Orchestrator) process(ctx context.Context, path string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.processTimeout)
	defer cancel()

	err := o.ingest(pctx, path)
	if err == nil {
		o.ledger.clear(path)
		return
	}

	o.stats.Failures++
	attempts, exhausted := o.ledger.fail(path)
	fields := log.Fields{"path": path, "attempt": attempts, "max_retries": o.maxRetries}
	if !exhausted {
		o.log.WarnWithFields(fields, "Processing failed, will retry: %v", err)
		return
	}

	if dlErr := o.deadLetters.Append(path, err.Error()); dlErr != nil {
		o.log.ErrorWithFields(fields, "Retries exhausted but dead letter not recorded, keeping retry counter: %v", dlErr)
		return
	}
	o.ledger.clear(path)
	o.stats.DeadLettered++
	o.log.ErrorWithFields(fields, "Retries exhausted, file dead-lettered: %v", err)
}
