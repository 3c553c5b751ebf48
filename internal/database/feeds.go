package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lavoncyk/rss-reader/internal/reader"
)

const (
	feedNamespace     = "-fd"
	postNamespace     = "-pst"
	categoryNamespace = "-cat"
)

func (r Repo) Feed(ctx context.Context, id string) (reader.Feed, error) {
	q := r.db.Rebind(`SELECT * FROM feeds WHERE id = ?;`)

	var feed reader.Feed
	err := r.db.GetContext(ctx, &feed, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return reader.Feed{}, reader.ErrNotFound
	}
	if err != nil {
		return reader.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	return feed, nil
}

func (r Repo) FeedBySourceURL(ctx context.Context, sourceURL string) (reader.Feed, error) {
	q := r.db.Rebind(`SELECT * FROM feeds WHERE source_url = ?;`)

	var feed reader.Feed
	err := r.db.GetContext(ctx, &feed, q, sourceURL)
	if errors.Is(err, sql.ErrNoRows) {
		return reader.Feed{}, reader.ErrNotFound
	}
	if err != nil {
		return reader.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	return feed, nil
}

// AllFeeds retrieves _all_ feeds from the database.
func (r Repo) AllFeeds(ctx context.Context) ([]reader.Feed, error) {
	const q = "SELECT * FROM feeds ORDER BY created_at, id;"

	var feeds []reader.Feed
	if err := r.db.SelectContext(ctx, &feeds, q); err != nil {
		return nil, fmt.Errorf("error selecting all feeds: %s", err)
	}

	return feeds, nil
}

// InsertFeed creates a feed that has never been synced.
func (r Repo) InsertFeed(ctx context.Context, f reader.Feed) (reader.Feed, error) {
	const q = `INSERT INTO feeds (id, category_id, name, url, source_url)
	VALUES (:id, :category_id, :name, :url, :source_url);`

	f.ID = fmt.Sprintf("%s%s", uuid.NewString(), feedNamespace)
	_, err := r.db.NamedExecContext(ctx, q, f)
	if isUniqueViolation(err) {
		return reader.Feed{}, fmt.Errorf("feed already exists: %w", reader.ErrConflict)
	}
	if err != nil {
		return reader.Feed{}, fmt.Errorf("error inserting feed: %s", err)
	}

	return r.Feed(ctx, f.ID)
}

// UpsertFeed inserts the feed or, when one with the same source url exists,
// updates its descriptive fields. Sync bookkeeping is left alone.
func (r Repo) UpsertFeed(ctx context.Context, f reader.Feed) (reader.Feed, error) {
	existing, err := r.FeedBySourceURL(ctx, f.SourceURL)
	if errors.Is(err, reader.ErrNotFound) {
		return r.InsertFeed(ctx, f)
	}
	if err != nil {
		return reader.Feed{}, err
	}

	query, args, err := r.sb.Update("feeds").
		Set("name", f.Name).
		Set("url", f.URL).
		Set("category_id", f.CategoryID).
		Where(sq.Eq{"id": existing.ID}).
		ToSql()
	if err != nil {
		return reader.Feed{}, fmt.Errorf("error constructing sql: %s", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return reader.Feed{}, fmt.Errorf("error updating feed: %s", err)
	}

	return r.Feed(ctx, existing.ID)
}

// DeleteFeed removes the feed along with its posts.
func (r Repo) DeleteFeed(ctx context.Context, id string) error {
	q := r.db.Rebind(`DELETE FROM feeds WHERE id = ?;`)

	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("error deleting feed: %s", err)
	}

	return nil
}

// DeleteFeedsExcept removes every feed whose id is not in keep.
//
// Returns the number of feeds removed.
func (r Repo) DeleteFeedsExcept(ctx context.Context, keep []string) (int64, error) {
	return r.deleteExcept(ctx, "feeds", keep)
}

func (r Repo) deleteExcept(ctx context.Context, table string, keep []string) (int64, error) {
	query, args, err := r.deleteExceptQuery(table, keep).ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %s", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting from %s: %s", table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %s", err)
	}

	return n, nil
}

func (r Repo) deleteExceptQuery(table string, keep []string) sq.DeleteBuilder {
	q := r.sb.Delete(table)
	if len(keep) > 0 {
		q = q.Where(sq.NotEq{"id": keep})
	}

	return q
}

// UpdateFeedSyncState writes back the conditional fetch tokens, the sync
// watermark and the recent post count in a single statement.
func (r Repo) UpdateFeedSyncState(ctx context.Context, feedID string, args reader.UpdateSyncStateArgs) error {
	query, qArgs, err := r.syncStateUpdate(feedID, args).ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	res, err := r.db.ExecContext(ctx, query, qArgs...)
	if err != nil {
		return fmt.Errorf("error executing feed sync state update: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %s", err)
	}
	if n == 0 {
		return fmt.Errorf("feed %s: %w", feedID, reader.ErrNotFound)
	}

	return nil
}

func (r Repo) syncStateUpdate(feedID string, args reader.UpdateSyncStateArgs) sq.UpdateBuilder {
	return r.sb.Update("feeds").
		Set("etag", args.ETag).
		Set("last_modified", args.LastModified).
		Set("last_synced_at", dbTime(args.LastSyncedAt)).
		Set("recent_post_count", args.RecentPostCount).
		Where(sq.Eq{"id": feedID})
}
