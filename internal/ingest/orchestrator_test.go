package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/listener"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/message"
	"github.com/ibs-source/tile-consumer/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted WaitForNotification outcome
type step func() (*message.Notification, error)

func notify(payload string) step {
	return func() (*message.Notification, error) {
		return &message.Notification{Channel: "tiles_updated", Payload: payload, PID: 7}, nil
	}
}

func idleStep() (*message.Notification, error) { return nil, nil }

// fakeListener replays steps and cancels the run once they are exhausted
type fakeListener struct {
	steps       []step
	connectErrs []error
	connects    int
	connected   bool
	waits       int
	cancel      context.CancelFunc
}

func (f *fakeListener) ConnectAndSubscribe(context.Context) error {
	f.connects++
	var err error
	if len(f.connectErrs) > 0 {
		err, f.connectErrs = f.connectErrs[0], f.connectErrs[1:]
	}
	f.connected = err == nil
	return err
}

func (f *fakeListener) WaitForNotification(ctx context.Context, _ time.Duration) (*message.Notification, error) {
	f.waits++
	if !f.connected {
		return nil, listener.ErrNotListening
	}
	if len(f.steps) == 0 {
		f.cancel()
		return nil, ctx.Err()
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s()
}

// lose drops the session like a broken connection
func (f *fakeListener) lose() step {
	return func() (*message.Notification, error) {
		f.connected = false
		return nil, listener.ErrConnectionLost
	}
}

type fakeRenderer struct {
	calls  [][]tile.ZoomGroup
	errs   []error
	onCall func(ctx context.Context)
}

func (r *fakeRenderer) Render(ctx context.Context, _ string, groups []tile.ZoomGroup) ([]tile.Rendered, error) {
	r.calls = append(r.calls, groups)
	if r.onCall != nil {
		r.onCall(ctx)
	}
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []tile.Rendered
	for _, g := range groups {
		for _, c := range g.Coords {
			out = append(out, tile.Rendered{Coord: c, Data: []byte(c.String())})
		}
	}
	return out, nil
}

type fakeArchiver struct {
	written [][]tile.Rendered
	err     error
}

func (a *fakeArchiver) WriteTiles(_ context.Context, tiles []tile.Rendered) error {
	if a.err != nil {
		return a.err
	}
	a.written = append(a.written, tiles)
	return nil
}

type fakeDeadLetters struct {
	paths   []string
	reasons []string
	errs    []error
}

func (d *fakeDeadLetters) Append(path, reason string) error {
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return err
	}
	d.paths = append(d.paths, path)
	d.reasons = append(d.reasons, reason)
	return nil
}

type fakePublisher struct {
	events []message.TileEvent
	err    error
}

func (p *fakePublisher) PublishBatch(_ context.Context, ev message.TileEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

type harness struct {
	orch      *Orchestrator
	listener  *fakeListener
	renderer  *fakeRenderer
	archiver  *fakeArchiver
	dead      *fakeDeadLetters
	publisher *fakePublisher
	sleeps    []time.Duration
	ctx       context.Context
	dir       string
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	cfg := &config.Config{
		Tiles: config.TileConfig{MinZoom: 0, MaxZoom: 14},
		Files: config.FileConfig{DirtyTilesDir: dir},
		Worker: config.WorkerConfig{
			BatchTimeout:     time.Second,
			MaxRetries:       1,
			ReconnectBackoff: 10 * time.Second,
			ProcessTimeout:   time.Minute,
			RetryOnIdle:      false,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		listener:  &fakeListener{cancel: cancel},
		renderer:  &fakeRenderer{},
		archiver:  &fakeArchiver{},
		dead:      &fakeDeadLetters{},
		publisher: &fakePublisher{},
		ctx:       ctx,
		dir:       dir,
	}
	logger := log.NewWithOutput(&bytes.Buffer{}, "error", "text")
	h.orch = New(h.listener, h.renderer, h.archiver, h.dead, cfg, logger, WithPublisher(h.publisher))
	h.orch.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) run(t *testing.T, steps ...step) {
	t.Helper()
	h.listener.steps = steps
	err := h.orch.Run(h.ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func (h *harness) writeFile(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestRun_ProcessesNotification(t *testing.T) {
	h := newHarness(t, nil)
	path := h.writeFile(t, "dirty.txt", "14/8234/5425", "", "12/100/200", "garbage", "12/100/200")

	h.run(t, notify(path))

	require.Len(t, h.renderer.calls, 1)
	groups := h.renderer.calls[0]
	require.Len(t, groups, 2)
	assert.Equal(t, uint8(12), groups[0].Zoom, "coarse zoom first")
	assert.Equal(t, uint8(14), groups[1].Zoom)

	require.Len(t, h.archiver.written, 1)
	assert.Len(t, h.archiver.written[0], 2)

	require.Len(t, h.publisher.events, 1)
	ev := h.publisher.events[0]
	assert.Equal(t, 2, ev.Count)
	assert.Equal(t, path, ev.Source)

	assert.Empty(t, h.dead.paths)
	assert.Zero(t, h.orch.ledger.len())
	stats := h.orch.Stats()
	assert.Equal(t, 1, stats.Notifications)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 2, stats.Tiles)
}

func TestRun_MissingFileDeadLettersOnce(t *testing.T) {
	h := newHarness(t, nil) // max retries 1
	path := filepath.Join(h.dir, "missing.txt")

	h.run(t, notify(path), notify(path))

	assert.Equal(t, []string{path}, h.dead.paths, "dead-lettered exactly once after max_retries+1 failures")
	assert.Contains(t, h.dead.reasons[0], "does not exist")
	assert.Zero(t, h.orch.ledger.count(path), "counter removed after dead-lettering")
	assert.Empty(t, h.renderer.calls)
	assert.Equal(t, 2, h.orch.Stats().Failures)
}

func TestRun_MissingFileIncrementsCounter(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Worker.MaxRetries = 3 })
	path := filepath.Join(h.dir, "missing.txt")

	h.run(t, notify(path), notify(path))

	assert.Equal(t, 2, h.orch.ledger.count(path))
	assert.Empty(t, h.dead.paths)
}

func TestRun_SuccessClearsCounter(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Worker.MaxRetries = 3 })
	path := filepath.Join(h.dir, "late.txt")

	h.run(t,
		notify(path),
		func() (*message.Notification, error) {
			h.writeFile(t, "late.txt", "5/1/1")
			return notify(path)()
		},
	)

	assert.Zero(t, h.orch.ledger.count(path))
	assert.Len(t, h.archiver.written, 1)
	assert.Empty(t, h.dead.paths)
}

func TestRun_EmptyFileIsTransient(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Worker.MaxRetries = 3 })
	path := filepath.Join(h.dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	h.run(t, notify(path))

	assert.Equal(t, 1, h.orch.ledger.count(path))
}

func TestRun_AllMalformedIsFailure(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Worker.MaxRetries = 0 })
	path := h.writeFile(t, "bad.txt", "garbage", "1/2")

	h.run(t, notify(path))

	assert.Equal(t, []string{path}, h.dead.paths)
	assert.Empty(t, h.renderer.calls)
}

func TestRun_BlankOnlyFileSucceedsWithoutRender(t *testing.T) {
	h := newHarness(t, nil)
	path := h.writeFile(t, "blank.txt", "", "   ", "")

	h.run(t, notify(path))

	assert.Empty(t, h.renderer.calls)
	assert.Zero(t, h.orch.ledger.len())
	assert.Empty(t, h.dead.paths)
}

func TestRun_ConnectionLostReconnects(t *testing.T) {
	h := newHarness(t, nil)
	path := h.writeFile(t, "dirty.txt", "3/1/1")

	h.run(t, h.listener.lose(), notify(path))

	assert.Equal(t, 2, h.listener.connects, "initial subscribe plus one reconnect")
	assert.Equal(t, []time.Duration{10 * time.Second}, h.sleeps, "backoff before reconnect")
	assert.Len(t, h.archiver.written, 1, "loop kept running after the reconnect")
	assert.Equal(t, 1, h.orch.Stats().Reconnects)
}

func TestRun_FailedReconnectIsRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.listener.connectErrs = []error{nil, listener.ErrConnectFailed, nil}
	path := h.writeFile(t, "dirty.txt", "3/1/1")

	h.run(t, h.listener.lose(), notify(path))

	assert.Equal(t, 3, h.listener.connects)
	assert.Len(t, h.sleeps, 2)
	assert.Len(t, h.archiver.written, 1)
}

func TestRun_StartupSubscribeFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.listener.connectErrs = []error{listener.ErrSubscribeFailed}

	err := h.orch.Run(h.ctx)
	require.ErrorIs(t, err, listener.ErrSubscribeFailed)
	assert.Zero(t, h.listener.waits)
}

func TestRun_RenderFailureIsRetryable(t *testing.T) {
	h := newHarness(t, nil)
	h.renderer.errs = []error{errors.New("statement timeout"), nil}
	path := h.writeFile(t, "dirty.txt", "3/1/1")

	h.run(t, notify(path), notify(path))

	assert.Len(t, h.renderer.calls, 2)
	assert.Len(t, h.archiver.written, 1)
	assert.Empty(t, h.dead.paths)
	assert.Zero(t, h.orch.ledger.count(path))
}

func TestRun_PersistFailureDeadLetters(t *testing.T) {
	h := newHarness(t, nil)
	h.archiver.err = errors.New("disk full")
	path := h.writeFile(t, "dirty.txt", "3/1/1")

	h.run(t, notify(path), notify(path))

	require.Equal(t, []string{path}, h.dead.paths)
	assert.Contains(t, h.dead.reasons[0], ErrPersist.Error())
	assert.Empty(t, h.publisher.events)
}

func TestRun_DeadLetterFailureKeepsCounter(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Worker.MaxRetries = 0 })
	h.dead.errs = []error{errors.New("read-only file system")}
	path := filepath.Join(h.dir, "missing.txt")
	var pendingAfterFirst []string

	h.run(t,
		notify(path),
		func() (*message.Notification, error) {
			pendingAfterFirst = h.orch.ledger.pending()
			return notify(path)()
		},
	)

	assert.Equal(t, []string{path}, pendingAfterFirst, "file stays in the ledger while the dead letter is unrecorded")
	assert.Equal(t, []string{path}, h.dead.paths, "recorded on the next failed attempt")
	assert.Zero(t, h.orch.ledger.len())
	assert.Equal(t, 1, h.orch.Stats().DeadLettered)
	assert.Equal(t, 2, h.orch.Stats().Failures)
}

func TestRun_PublisherFailureDoesNotFailBatch(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.err = errors.New("broker down")
	path := h.writeFile(t, "dirty.txt", "3/1/1")

	h.run(t, notify(path))

	assert.Len(t, h.publisher.events, 1)
	assert.Zero(t, h.orch.ledger.len())
	assert.Zero(t, h.orch.Stats().Failures)
}

func TestRun_ZoomBoundsApplied(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Tiles.MinZoom = 5
		c.Tiles.MaxZoom = 12
	})
	path := h.writeFile(t, "dirty.txt", "3/1/1", "8/10/10", "14/8234/5425")

	h.run(t, notify(path))

	require.Len(t, h.renderer.calls, 1)
	groups := h.renderer.calls[0]
	require.Len(t, groups, 1)
	assert.Equal(t, uint8(8), groups[0].Zoom)
}

func TestRun_OutOfBoundsOnlyIsNotAFailure(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Tiles.MaxZoom = 10 })
	path := h.writeFile(t, "dirty.txt", "14/8234/5425")

	h.run(t, notify(path))

	assert.Empty(t, h.renderer.calls)
	assert.Zero(t, h.orch.ledger.len())
}

func TestRun_RelativeAndEmptyPayloads(t *testing.T) {
	h := newHarness(t, nil)
	h.writeFile(t, "relative.txt", "4/2/2")

	h.run(t, notify("   "), notify(" relative.txt\n"))

	assert.Len(t, h.archiver.written, 1)
	stats := h.orch.Stats()
	assert.Equal(t, 2, stats.Notifications)
	assert.Equal(t, 1, stats.Invalid)
	assert.Zero(t, h.orch.ledger.len(), "empty payload has no identifier to count")
}

func TestRun_IdleRetrySweep(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Worker.RetryOnIdle = true })
	path := filepath.Join(h.dir, "missing.txt")

	h.run(t, notify(path), idleStep)

	assert.Equal(t, []string{path}, h.dead.paths, "sweep attempt counts toward retries")
	assert.Equal(t, 1, h.orch.Stats().Heartbeats)
}

func TestRun_IdleWithoutSweep(t *testing.T) {
	h := newHarness(t, nil)
	path := filepath.Join(h.dir, "missing.txt")

	h.run(t, notify(path), idleStep, idleStep)

	assert.Equal(t, 1, h.orch.ledger.count(path))
	assert.Empty(t, h.dead.paths)
}

func TestRun_ShutdownLetsInFlightFileFinish(t *testing.T) {
	h := newHarness(t, nil)
	path := h.writeFile(t, "dirty.txt", "3/1/1")

	var renderCtxErr error
	h.renderer.onCall = func(ctx context.Context) {
		h.listener.cancel()
		renderCtxErr = ctx.Err()
	}

	h.run(t, notify(path), notify(path))

	assert.NoError(t, renderCtxErr, "processing is detached from shutdown")
	assert.Len(t, h.archiver.written, 1, "in-flight file completed")
	assert.Len(t, h.renderer.calls, 1, "no new notification after shutdown")
}

func TestResolvePath(t *testing.T) {
	o := &Orchestrator{dirtyDir: "/var/cache/renderd"}

	p, ok := o.resolvePath("/tmp/a.txt")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/a.txt", p)

	p, ok = o.resolvePath("sub/../b.txt")
	assert.True(t, ok)
	assert.Equal(t, "/var/cache/renderd/b.txt", p)

	_, ok = o.resolvePath("\t")
	assert.False(t, ok)
}
