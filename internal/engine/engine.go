package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/queue"
	"github.com/tillfloat/tillsync/internal/remote"
	"github.com/tillfloat/tillsync/internal/store"
	"github.com/tillfloat/tillsync/internal/tables"
)

// Remote is the server surface the engine drains against.
// Implemented by remote.Client (production) and scripted fakes (tests).
type Remote interface {
	Do(ctx context.Context, op pos.PendingOp) (remote.SubmitResult, error)
	Ping(ctx context.Context) error
	FetchTableSnapshot(ctx context.Context) ([]tables.Reservation, error)
}

// Defaults for the drain cadence. Overridable per option.
const (
	DefaultSyncInterval  = 30 * time.Second
	DefaultMinSyncGap    = 3 * time.Second
	DefaultProbeInterval = 15 * time.Second
)

// Engine owns the local store, the pending-operation queue, the table
// arbitrator, and the remote client, and is the only component that
// mutates any of them.
//
// Thread-safety model:
//   - Intents and SyncNow: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Drain passes are serialized by the single-token permit channel;
//     lastSync is only touched while holding the permit
type Engine struct {
	store  *store.Store
	queue  *queue.Queue
	tables *tables.Arbitrator
	remote Remote
	logger *slog.Logger

	now   func() time.Time
	newID pos.IDGenerator

	syncInterval  time.Duration
	minGap        time.Duration
	probeInterval time.Duration

	permit  chan struct{} // single drain token
	trigger chan struct{} // coalesced drain requests
	online  atomic.Bool

	lastSync time.Time
}

// Option adjusts an Engine.
type Option func(*Engine)

// WithSyncInterval sets the periodic drain cadence.
func WithSyncInterval(d time.Duration) Option {
	return func(e *Engine) { e.syncInterval = d }
}

// WithMinSyncGap sets the minimum spacing between automatic drains.
// Manual SyncNow is exempt.
func WithMinSyncGap(d time.Duration) Option {
	return func(e *Engine) { e.minGap = d }
}

// WithProbeInterval sets the connectivity probe cadence while offline.
func WithProbeInterval(d time.Duration) Option {
	return func(e *Engine) { e.probeInterval = d }
}

// WithLogger substitutes the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow substitutes the time source. Test hook.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator substitutes the provisional identifier source. Test hook.
func WithIDGenerator(gen pos.IDGenerator) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates an Engine over an opened store and a remote client.
// The engine starts optimistically online; the first transport failure
// flips it offline until a probe or successful drain flips it back.
func New(s *store.Store, r Remote, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		remote:        r,
		tables:        tables.New(),
		logger:        slog.Default(),
		now:           time.Now,
		newID:         pos.NewProvisionalID,
		syncInterval:  DefaultSyncInterval,
		minGap:        DefaultMinSyncGap,
		probeInterval: DefaultProbeInterval,
		permit:        make(chan struct{}, 1),
		trigger:       make(chan struct{}, 1),
	}
	e.permit <- struct{}{}
	e.online.Store(true)
	for _, opt := range opts {
		opt(e)
	}
	e.queue = queue.New(s, queue.WithLogger(e.logger), queue.WithNow(e.now))
	return e
}

// Tables exposes the occupancy view for read-only callers.
func (e *Engine) Tables() *tables.Arbitrator { return e.tables }

// Online reports the engine's current connectivity belief.
func (e *Engine) Online() bool { return e.online.Load() }

// Warm rebuilds in-memory state from the store: the last persisted server
// snapshot plus the claims implied by open local orders. Run calls it
// first; embedders driving drains manually call it once at startup.
func (e *Engine) Warm(ctx context.Context) error {
	entries, err := e.store.ListTableSnapshot(ctx)
	if err != nil {
		return err
	}
	snapshot := make([]tables.Reservation, 0, len(entries))
	for _, s := range entries {
		snapshot = append(snapshot, tables.Reservation{
			Table:       s.Table,
			OrderID:     s.OrderID,
			OrderNumber: s.OrderNumber,
		})
	}
	e.tables.SetServerSnapshot(snapshot)

	open, err := e.store.ListOrders(ctx, store.OrderFilter{OpenOnly: true})
	if err != nil {
		return err
	}
	e.tables.RebuildFromLocal(open)

	count, err := e.queue.Count(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("engine warmed",
		"occupied_tables", len(e.tables.Occupied()),
		"pending_ops", count)
	return nil
}

// NotifyVisible signals that the UI came to the foreground. Coalesced;
// safe from any goroutine.
func (e *Engine) NotifyVisible() { e.kick() }

// NotifyOnline signals that the platform reported connectivity.
func (e *Engine) NotifyOnline() {
	e.online.Store(true)
	e.kick()
}

func (e *Engine) kick() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run starts the trigger loop: periodic drains, offline probes, and
// coalesced external triggers. Blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Warm(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()
	probe := time.NewTicker(e.probeInterval)
	defer probe.Stop()

	e.kick() // drain whatever survived the last shutdown

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "reason", ctx.Err())
			return ctx.Err()

		case <-ticker.C:
			e.autoDrain(ctx)

		case <-probe.C:
			if !e.online.Load() {
				e.probeConnectivity(ctx)
			}

		case <-e.trigger:
			e.autoDrain(ctx)
		}
	}
}

// autoDrain runs one gap-respecting drain pass and logs the outcome.
// Skipping (permit busy, gap not elapsed, offline with empty queue) is
// not an error.
func (e *Engine) autoDrain(ctx context.Context) {
	res, err := e.drain(ctx, false)
	if err != nil {
		e.logger.Warn("drain failed", "error", err)
		return
	}
	if res.Synced > 0 || res.Failed > 0 || len(res.Rejections) > 0 {
		e.logger.Info("drain finished",
			"synced", res.Synced,
			"failed", res.Failed,
			"rejected", len(res.Rejections))
	}
}

// probeConnectivity pings the server and, on success, flips online and
// nudges a drain.
func (e *Engine) probeConnectivity(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeInterval)
	defer cancel()
	if err := e.remote.Ping(probeCtx); err != nil {
		return
	}
	e.logger.Info("connectivity regained")
	e.online.Store(true)
	e.kick()
}
