// Package reader holds the domain types shared between the feed store,
// the fetcher and the sync worker.
package reader

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// FeedStore is the surface the sync worker needs from persistence.
	FeedStore interface {
		AllFeeds(ctx context.Context) ([]Feed, error)
		Feed(ctx context.Context, id string) (Feed, error)
		// InTx runs fn inside a single transaction: everything fn writes
		// commits together or not at all.
		InTx(ctx context.Context, fn func(SyncWriter) error) error
	}

	// SyncWriter holds the writes done while committing one feed's sync.
	SyncWriter interface {
		InsertPosts(ctx context.Context, posts []Post) error
		CountRecentPosts(ctx context.Context, feedID string, since time.Time) (int, error)
		UpdateFeedSyncState(ctx context.Context, feedID string, args UpdateSyncStateArgs) error
	}

	// Holds the fields written back to a feed after a successful sync.
	UpdateSyncStateArgs struct {
		ETag            *string
		LastModified    *string
		LastSyncedAt    time.Time
		RecentPostCount int
	}
)
