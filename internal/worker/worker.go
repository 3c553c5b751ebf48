// Package worker keeps the stored feeds in sync with their publishers.
//
// A cycle fetches every feed concurrently, waits for all of them, then
// commits the results one feed at a time. Only one cycle runs at once.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lavoncyk/rss-reader/internal/fetch"
	"github.com/lavoncyk/rss-reader/internal/reader"
)

// ErrCycleRunning is returned when a cycle is requested while another one
// holds the lock.
var ErrCycleRunning = errors.New("sync cycle already running")

// ErrStopped is returned by Trigger once Run has returned.
var ErrStopped = errors.New("sync worker stopped")

// Fetcher retrieves a feed document. [fetch.Fetcher] is the implementation
// used outside of tests.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string, etag, lastModified *string) (fetch.Outcome, error)
}

type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	// Upper bound on fetches in flight at once.
	MaxConcurrentFetches int
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Feeds        int
	Synced       int // Committed with a fresh document
	NotModified  int // Committed after a 304
	Failed       int // Fetch failed, nothing written
	CommitFailed int // Fetched fine but the transaction rolled back
	NewPosts     int
}

type Worker struct {
	store   reader.FeedStore
	fetcher Fetcher
	cfg     Config

	now func() time.Time

	// Held for the whole of a cycle
	mu sync.Mutex

	reportMu   sync.RWMutex
	lastReport *CycleReport

	// Cancels cycles started with Trigger once Run returns. lifeMu orders
	// wg.Add in Trigger against stop in Run.
	lifeMu   sync.Mutex
	shutdown context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

func New(store reader.FeedStore, fetcher Fetcher, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 8
	}

	shutdown, stop := context.WithCancel(context.Background())
	return &Worker{
		store:    store,
		fetcher:  fetcher,
		cfg:      cfg,
		now:      time.Now,
		shutdown: shutdown,
		stop:     stop,
	}
}

// Run syncs once right away and then on every tick of the configured
// interval until ctx is done. A tick that fires while a cycle is still
// running is skipped.
//
// Cycle failures are logged, never returned.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		w.lifeMu.Lock()
		w.stop()
		w.lifeMu.Unlock()

		w.wg.Wait()
	}()

	slog.InfoContext(ctx, "starting sync scheduler", "interval", w.cfg.Interval)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)

		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "stopping sync scheduler")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	report, err := w.RunCycle(ctx)
	if errors.Is(err, ErrCycleRunning) {
		slog.WarnContext(ctx, "previous sync cycle still running, skipping tick")
		return
	}
	if err != nil {
		logCycleError(ctx, "sync cycle failed", err)
		return
	}

	slog.InfoContext(ctx, "sync cycle finished",
		"feeds", report.Feeds,
		"synced", report.Synced,
		"not_modified", report.NotModified,
		"failed", report.Failed,
		"commit_failed", report.CommitFailed,
		"new_posts", report.NewPosts,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
}

// Trigger starts a cycle in the background over the given feeds, or over
// every feed when ids is empty. It returns ErrCycleRunning without starting
// anything if a cycle is in progress.
//
// The cycle outlives ctx but stops when Run returns. Once Run has returned
// Trigger fails with ErrStopped.
func (w *Worker) Trigger(ctx context.Context, ids []string) error {
	if !w.mu.TryLock() {
		return ErrCycleRunning
	}

	w.lifeMu.Lock()
	if w.shutdown.Err() != nil {
		w.lifeMu.Unlock()
		w.mu.Unlock()
		return ErrStopped
	}
	w.wg.Add(1)
	w.lifeMu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(w.shutdown, cancel)

	go func() {
		defer w.wg.Done()
		defer w.mu.Unlock()
		defer cancel()
		defer stopAfter()

		feeds, err := w.loadFeeds(runCtx, ids)
		if err != nil {
			logCycleError(runCtx, "triggered sync failed", err)
			return
		}

		report, err := w.cycle(runCtx, feeds)
		if err != nil {
			logCycleError(runCtx, "triggered sync failed", err)
			return
		}
		slog.InfoContext(runCtx, "triggered sync finished", "feeds", report.Feeds, "new_posts", report.NewPosts)
	}()

	return nil
}

// Being cancelled is how a cycle ends on shutdown, not a failure.
func logCycleError(ctx context.Context, msg string, err error) {
	if errors.Is(err, context.Canceled) {
		slog.InfoContext(ctx, msg, "reason", err)
		return
	}

	slog.ErrorContext(ctx, msg, "error", err)
}

// LastReport returns the report of the most recently finished cycle.
func (w *Worker) LastReport() (CycleReport, bool) {
	w.reportMu.RLock()
	defer w.reportMu.RUnlock()

	if w.lastReport == nil {
		return CycleReport{}, false
	}

	return *w.lastReport, true
}

func (w *Worker) setReport(r CycleReport) {
	w.reportMu.Lock()
	defer w.reportMu.Unlock()

	w.lastReport = &r
}
