package database

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lavoncyk/rss-reader/internal/reader"
)

// InsertPosts stores the posts in one bulk statement, assigning their ids.
func (r Repo) InsertPosts(ctx context.Context, posts []reader.Post) error {
	if len(posts) == 0 {
		return nil
	}

	// Create id's for the posts
	for i := range posts {
		posts[i].ID = fmt.Sprintf("%s%s", uuid.NewString(), postNamespace)
		posts[i].PublishedAt = dbTime(posts[i].PublishedAt)
		posts[i].IngestedAt = dbTime(posts[i].IngestedAt)
	}

	const q = `INSERT INTO posts (id, feed_id, title, permalink_url, published_at, ingested_at)
	VALUES (:id, :feed_id, :title, :permalink_url, :published_at, :ingested_at);`
	if _, err := r.db.NamedExecContext(ctx, q, posts); err != nil {
		return fmt.Errorf("error inserting posts: %s", err)
	}

	return nil
}

// CountRecentPosts counts the feed's posts published at or after since.
func (r Repo) CountRecentPosts(ctx context.Context, feedID string, since time.Time) (int, error) {
	query, args, err := r.recentPostsCount(feedID, since).ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %s", err)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("error counting recent posts: %s", err)
	}

	return count, nil
}

func (r Repo) recentPostsCount(feedID string, since time.Time) sq.SelectBuilder {
	return r.sb.Select("COUNT(*)").
		From("posts").
		Where(sq.Eq{"feed_id": feedID}).
		Where(sq.GtOrEq{"published_at": dbTime(since)})
}

// FeedPosts returns the feed's posts, newest first.
func (r Repo) FeedPosts(ctx context.Context, feedID string, limit uint64) ([]reader.Post, error) {
	q := r.sb.Select("*").
		From("posts").
		Where(sq.Eq{"feed_id": feedID}).
		OrderBy("published_at DESC", "id")
	if limit > 0 {
		q = q.Limit(limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	posts := []reader.Post{}
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching posts: %s", err)
	}

	return posts, nil
}
