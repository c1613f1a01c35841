// Package scan walks monitored directory trees and records what it finds
// in the entry store. A full cycle clears every scanned flag, observes the
// live filesystem, then sweeps the paths the walk never touched.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fimd/internal/event"
	"fimd/internal/filter"
	"fimd/internal/stats"
	"fimd/internal/store"
)

// Config controls a scan cycle.
type Config struct {
	Roots       []string
	Workers     int
	Filter      *filter.Chain
	FilesPerSec float64 // 0 means unlimited
	SHA256      bool    // record a SHA-256 digest alongside BLAKE3
	Events      chan<- event.Event
	Logger      *slog.Logger
}

type dirItem struct {
	path string
	root string
}

// Scanner traverses the configured roots in parallel and records every
// monitored regular file in the store.
type Scanner struct {
	cfg     Config
	st      *store.Store
	col     *stats.Collector
	cycle   uuid.UUID
	limiter *rate.Limiter
	log     *slog.Logger

	cancel    context.CancelFunc
	fatalOnce sync.Once
	fatalErr  error
}

func newScanner(st *store.Store, cfg Config, cycle uuid.UUID, col *stats.Collector) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = min(runtime.NumCPU(), 8)
	}
	if cfg.Filter == nil {
		cfg.Filter = filter.NewChain()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Scanner{cfg: cfg, st: st, col: col, cycle: cycle, log: cfg.Logger}
	if cfg.FilesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.FilesPerSec), 1)
	}
	return s
}

// Run walks all roots and returns once every worker has drained. The first
// storage error aborts the walk; filesystem errors on individual files are
// counted and reported but do not stop the scan.
func (s *Scanner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	workQueue := make(chan dirItem, s.cfg.Workers*2)
	var outstanding sync.WaitGroup // directories queued but not yet processed

	var workers sync.WaitGroup
	for range s.cfg.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for item := range workQueue {
				s.scanDir(ctx, item, workQueue, &outstanding)
				outstanding.Done()
			}
		}()
	}

	for _, root := range s.cfg.Roots {
		outstanding.Add(1)
		workQueue <- dirItem{path: root, root: root}
	}

	// Wait for all directory work to finish, then close the queue so
	// workers exit their range loop.
	outstanding.Wait()
	close(workQueue)
	workers.Wait()

	if s.fatalErr != nil {
		return s.fatalErr
	}
	return ctx.Err()
}

func (s *Scanner) scanDir(ctx context.Context, item dirItem, workQueue chan<- dirItem, outstanding *sync.WaitGroup) {
	if ctx.Err() != nil {
		return
	}

	entries, err := os.ReadDir(item.path)
	if err != nil {
		s.fileFailed(item.path, err)
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		abs := filepath.Join(item.path, entry.Name())
		rel, err := filepath.Rel(item.root, abs)
		if err != nil {
			s.fileFailed(abs, err)
			continue
		}
		rel = filepath.ToSlash(rel)

		switch {
		case entry.IsDir():
			if !s.cfg.Filter.Match(rel, true) {
				continue
			}
			s.enqueue(ctx, dirItem{path: abs, root: item.root}, workQueue, outstanding)

		case entry.Type().IsRegular():
			if !s.cfg.Filter.Match(rel, false) {
				continue
			}
			if err := s.observeFile(ctx, abs); err != nil {
				s.fail(err)
				return
			}

		default:
			// Symlinks, sockets, and devices are not monitored.
		}
	}
}

// enqueue adds a directory to the work queue without blocking the worker.
// A worker stuck sending to a full queue while every other worker does the
// same would deadlock the walk, so an overflow send moves to a goroutine.
func (s *Scanner) enqueue(ctx context.Context, item dirItem, workQueue chan<- dirItem, outstanding *sync.WaitGroup) {
	outstanding.Add(1)
	select {
	case workQueue <- item:
	default:
		go func() {
			select {
			case workQueue <- item:
			case <-ctx.Done():
				outstanding.Done()
			}
		}()
	}
}

// observeFile stats, classifies, and records a single regular file. The
// returned error is fatal to the walk; per-file problems are reported
// through fileFailed and return nil.
func (s *Scanner) observeFile(ctx context.Context, path string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	attrs, err := statAttrs(path)
	if err != nil {
		s.fileFailed(path, err)
		return nil
	}
	s.col.AddFilesScanned(1)

	typ := event.FileAdded
	prior, err := s.st.GetPath(path)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// New path. A hardlink twin may already carry the digests.
		twin, terr := s.st.GetIdentity(attrs.Identity.Ino, attrs.Identity.Dev)
		switch {
		case terr == nil && Unchanged(twin.Attrs, attrs, s.cfg.SHA256):
			attrs.BLAKE3 = twin.Attrs.BLAKE3
			attrs.SHA256 = twin.Attrs.SHA256
		case terr != nil && !errors.Is(terr, store.ErrNotFound):
			return terr
		}
	case err != nil:
		return err
	case Unchanged(prior.Attrs, attrs, s.cfg.SHA256):
		typ = event.FileUnchanged
		attrs.BLAKE3 = prior.Attrs.BLAKE3
		attrs.SHA256 = prior.Attrs.SHA256
	default:
		typ = event.FileModified
	}

	if attrs.BLAKE3 == "" {
		b3, sha, herr := hashFile(path, s.cfg.SHA256)
		if herr != nil {
			s.fileFailed(path, herr)
			return nil
		}
		attrs.BLAKE3, attrs.SHA256 = b3, sha
		s.col.AddBytesHashed(attrs.Size)
	}

	if err := s.st.Insert(path, attrs); err != nil {
		return fmt.Errorf("record %s: %w", path, err)
	}

	switch typ {
	case event.FileAdded:
		s.col.AddFilesAdded(1)
	case event.FileModified:
		s.col.AddFilesModified(1)
	case event.FileUnchanged:
		s.col.AddFilesUnchanged(1)
	}
	event.Emit(s.cfg.Events, event.Event{
		Type:   typ,
		Cycle:  s.cycle,
		Path:   path,
		Size:   attrs.Size,
		Digest: attrs.BLAKE3,
	})

	return s.st.CheckTransaction()
}

func (s *Scanner) fileFailed(path string, err error) {
	s.col.AddFilesFailed(1)
	s.log.Warn("skipping path", "path", path, "error", err)
	event.Emit(s.cfg.Events, event.Event{Type: event.FileFailed, Cycle: s.cycle, Path: path, Error: err})
}

// fail records the first fatal error and cancels the walk.
func (s *Scanner) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		s.cancel()
	})
}
