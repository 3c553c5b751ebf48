package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lavoncyk/rss-reader/internal/fetch"
	"github.com/lavoncyk/rss-reader/internal/logger"
	"github.com/lavoncyk/rss-reader/internal/reader"
)

// RunCycle syncs every stored feed. It returns ErrCycleRunning when another
// cycle holds the lock, and an error when the feed list can't be loaded.
// Failures of individual feeds are only counted in the report.
func (w *Worker) RunCycle(ctx context.Context) (CycleReport, error) {
	if !w.mu.TryLock() {
		return CycleReport{}, ErrCycleRunning
	}
	defer w.mu.Unlock()

	feeds, err := w.store.AllFeeds(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("error listing feeds: %w", err)
	}

	return w.cycle(ctx, feeds)
}

// SyncFeeds runs a cycle over only the given feeds. Ids that don't exist
// are skipped.
func (w *Worker) SyncFeeds(ctx context.Context, ids []string) (CycleReport, error) {
	if !w.mu.TryLock() {
		return CycleReport{}, ErrCycleRunning
	}
	defer w.mu.Unlock()

	feeds, err := w.loadFeeds(ctx, ids)
	if err != nil {
		return CycleReport{}, err
	}

	return w.cycle(ctx, feeds)
}

// Everything when ids is empty.
func (w *Worker) loadFeeds(ctx context.Context, ids []string) ([]reader.Feed, error) {
	if len(ids) == 0 {
		feeds, err := w.store.AllFeeds(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing feeds: %w", err)
		}

		return feeds, nil
	}

	feeds := make([]reader.Feed, 0, len(ids))
	for _, id := range ids {
		feed, err := w.store.Feed(ctx, id)
		if errors.Is(err, reader.ErrNotFound) {
			slog.WarnContext(ctx, "skipping unknown feed", "feed_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error fetching feed %s: %w", id, err)
		}

		feeds = append(feeds, feed)
	}

	return feeds, nil
}

// Must be called with the cycle lock held.
func (w *Worker) cycle(ctx context.Context, feeds []reader.Feed) (CycleReport, error) {
	report := CycleReport{
		StartedAt: w.now().UTC(),
		Feeds:     len(feeds),
	}

	// Each unit only writes its own slot
	results := make([]reader.SyncResult, len(feeds))

	var g errgroup.Group
	g.SetLimit(w.cfg.MaxConcurrentFetches)
	for i, feed := range feeds {
		i, feed := i, feed
		g.Go(func() error {
			results[i] = w.syncFeed(feedCtx(ctx, feed), feed)
			return nil
		})
	}
	// Nothing is committed until every fetch is done
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return CycleReport{}, fmt.Errorf("cycle abandoned before commit: %w", err)
	}

	for i, res := range results {
		fctx := feedCtx(ctx, feeds[i])

		if res.Err != nil {
			report.Failed++
			slog.ErrorContext(fctx, "error syncing feed", "error", res.Err)
			continue
		}

		if err := w.commit(fctx, feeds[i], res); err != nil {
			report.CommitFailed++
			slog.ErrorContext(fctx, "error committing feed sync", "error", err)
			continue
		}

		if res.NotModified {
			report.NotModified++
		} else {
			report.Synced++
		}
		report.NewPosts += len(res.Posts)
	}

	report.FinishedAt = w.now().UTC()
	w.setReport(report)

	return report, nil
}

func feedCtx(ctx context.Context, feed reader.Feed) context.Context {
	return logger.Ctx(ctx,
		slog.String("feed_id", feed.ID),
		slog.String("source_url", feed.SourceURL),
	)
}

// Fetches and filters a single feed. It never touches the store.
func (w *Worker) syncFeed(ctx context.Context, feed reader.Feed) reader.SyncResult {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	res := reader.SyncResult{FeedID: feed.ID}

	out, err := w.fetcher.Fetch(ctx, feed.SourceURL, feed.ETag, feed.LastModified)
	if err != nil {
		res.Err = err
		return res
	}
	res.SyncedAt = syncedAt(w.now(), feed.LastSyncedAt)
	res.ETag = out.ETag
	res.LastModified = out.LastModified

	if out.NotModified {
		res.NotModified = true
		return res
	}

	for _, invalid := range out.Invalid {
		slog.WarnContext(ctx, "dropping invalid entry",
			"index", invalid.Index,
			"guid", invalid.GUID,
			"reason", invalid.Reason,
		)
	}

	// The watermark has second precision; an entry from within the same
	// second must not look newer than it on the next cycle.
	fetched := make([]fetch.Entry, len(out.Entries))
	for i, e := range out.Entries {
		e.PublishedAt = e.PublishedAt.UTC().Truncate(time.Second)
		fetched[i] = e
	}

	for _, e := range FilterNew(fetched, feed.LastSyncedAt) {
		res.Posts = append(res.Posts, reader.Post{
			FeedID:       feed.ID,
			Title:        e.Title,
			PermalinkURL: e.Link,
			PublishedAt:  e.PublishedAt,
			IngestedAt:   res.SyncedAt,
		})
	}

	return res
}

// The watermark is stored at second precision and never moves backwards,
// even if the clock does.
func syncedAt(now time.Time, prior *time.Time) time.Time {
	t := now.UTC().Truncate(time.Second)
	if prior != nil && t.Before(*prior) {
		return prior.UTC()
	}

	return t
}

// Writes one feed's result in a single transaction.
func (w *Worker) commit(ctx context.Context, feed reader.Feed, res reader.SyncResult) error {
	return w.store.InTx(ctx, func(tx reader.SyncWriter) error {
		if err := tx.InsertPosts(ctx, res.Posts); err != nil {
			return err
		}

		count, err := tx.CountRecentPosts(ctx, feed.ID, w.now().Add(-reader.RecentWindow))
		if err != nil {
			return err
		}

		return tx.UpdateFeedSyncState(ctx, feed.ID, reader.UpdateSyncStateArgs{
			ETag:            res.ETag,
			LastModified:    res.LastModified,
			LastSyncedAt:    res.SyncedAt,
			RecentPostCount: count,
		})
	})
}

// Compile time check that the real fetcher fits.
var _ Fetcher = (*fetch.Fetcher)(nil)
