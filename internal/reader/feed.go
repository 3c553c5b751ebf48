package reader

import "time"

// RecentWindow is the trailing window counted into a feed's RecentPostCount.
const RecentWindow = 7 * 24 * time.Hour

type (
	// Feed represents an RSS feed and its sync bookkeeping.
	Feed struct {
		ID         string  `db:"id"`
		CategoryID *string `db:"category_id"`
		Name       string  `db:"name"`
		URL        string  `db:"url"` // The human facing website
		SourceURL  string  `db:"source_url"`

		// Conditional fetch tokens handed out by the publisher. Either may be missing.
		ETag         *string `db:"etag"`
		LastModified *string `db:"last_modified"`

		LastSyncedAt    *time.Time `db:"last_synced_at"`
		RecentPostCount int        `db:"recent_post_count"`
		CreatedAt       time.Time  `db:"created_at"`
	}

	// Post is a single entry ingested from a feed.
	Post struct {
		ID           string    `db:"id"`
		FeedID       string    `db:"feed_id"`
		Title        string    `db:"title"`
		PermalinkURL string    `db:"permalink_url"`
		PublishedAt  time.Time `db:"published_at"`
		IngestedAt   time.Time `db:"ingested_at"`
	}

	Category struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		Slug      string    `db:"slug"`
		CreatedAt time.Time `db:"created_at"`
	}

	// SyncResult is the outcome of fetching one feed during a cycle.
	//
	// It is never persisted; the commit stage consumes it. A non-nil Err means
	// nothing about the feed gets written.
	SyncResult struct {
		FeedID       string
		ETag         *string
		LastModified *string
		Posts        []Post
		SyncedAt     time.Time
		NotModified  bool
		Err          error
	}
)

// FreshnessWindow is how long a post counts as fresh, based on how busy
// its feed has been lately. Quiet feeds keep posts fresh for longer.
func FreshnessWindow(recentPostCount int) time.Duration {
	switch {
	case recentPostCount <= 1:
		return 7 * 24 * time.Hour
	case recentPostCount <= 20:
		return 24 * time.Hour
	case recentPostCount <= 100:
		return 8 * time.Hour
	default:
		return 4 * time.Hour
	}
}

// IsFresh reports whether the post is still fresh at now for the given feed.
func (p Post) IsFresh(feed Feed, now time.Time) bool {
	return p.PublishedAt.After(now.Add(-FreshnessWindow(feed.RecentPostCount)))
}
