package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fimd/internal/event"
	"fimd/internal/stats"
	"fimd/internal/store"
)

// Controller drives full scan cycles against the store: mark every entry
// unscanned, walk the roots, then sweep what the walk never saw.
type Controller struct {
	st  *store.Store
	cfg Config
	log *slog.Logger
}

// NewController creates a controller for repeated scan cycles over the
// same store and configuration.
func NewController(st *store.Store, cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{st: st, cfg: cfg, log: cfg.Logger}
}

// Run executes one scan cycle and returns its statistics. The sweep only
// runs after a complete walk; an aborted walk leaves stale entries in
// place rather than reporting false deletions.
func (c *Controller) Run(ctx context.Context) (stats.Snapshot, error) {
	cycle := uuid.New()
	col := stats.NewCollector()
	log := c.log.With("cycle", cycle)

	log.Info("scan cycle starting", "roots", c.cfg.Roots)
	event.Emit(c.cfg.Events, event.Event{Type: event.ScanStarted, Cycle: cycle})

	if err := c.st.SetAllUnscanned(); err != nil {
		return col.Snapshot(), fmt.Errorf("reset scanned flags: %w", err)
	}

	sc := newScanner(c.st, c.cfg, cycle, col)
	if err := sc.Run(ctx); err != nil {
		event.Emit(c.cfg.Events, event.Event{Type: event.ScanAborted, Cycle: cycle, Error: err})
		if cerr := c.st.ForceCommit(); cerr != nil {
			log.Error("commit after aborted scan", "error", cerr)
		}
		return col.Snapshot(), err
	}
	event.Emit(c.cfg.Events, event.Event{
		Type:  event.ScanComplete,
		Cycle: cycle,
		Total: col.Snapshot().FilesScanned,
	})

	event.Emit(c.cfg.Events, event.Event{Type: event.SweepStarted, Cycle: cycle})
	removed, err := c.st.SweepUnscanned(func(e store.Entry) {
		col.AddEntriesRemoved(1)
		event.Emit(c.cfg.Events, event.Event{
			Type:   event.EntryRemoved,
			Cycle:  cycle,
			Path:   e.Path,
			Size:   e.Attrs.Size,
			Digest: e.Attrs.BLAKE3,
		})
	})
	if err != nil {
		return col.Snapshot(), fmt.Errorf("sweep: %w", err)
	}
	event.Emit(c.cfg.Events, event.Event{Type: event.SweepComplete, Cycle: cycle, Total: int64(removed)})

	if err := c.st.ForceCommit(); err != nil {
		return col.Snapshot(), fmt.Errorf("commit scan cycle: %w", err)
	}

	snap := col.Snapshot()
	log.Info("scan cycle complete", "stats", snap.String())
	return snap, nil
}
