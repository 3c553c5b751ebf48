// Package v1 holds the request and response bodies of the worker's control
// endpoints.
package v1

import (
	"net/http"
	"strings"
	"time"

	rerrs "github.com/lavoncyk/rss-reader/internal/errors"
)

type (
	// TriggerRequest asks for a sync outside of the schedule. No ids means
	// every feed.
	TriggerRequest struct {
		FeedIDs []string `json:"feed_ids"`
	}

	TriggerResponse struct {
		Status string `json:"status"`
	}

	CycleReport struct {
		StartedAt    time.Time `json:"started_at"`
		FinishedAt   time.Time `json:"finished_at"`
		Feeds        int       `json:"feeds"`
		Synced       int       `json:"synced"`
		NotModified  int       `json:"not_modified"`
		Failed       int       `json:"failed"`
		CommitFailed int       `json:"commit_failed"`
		NewPosts     int       `json:"new_posts"`
	}

	FeedState struct {
		ID              string     `json:"id"`
		Name            string     `json:"name"`
		SourceURL       string     `json:"source_url"`
		ETag            *string    `json:"etag"`
		LastModified    *string    `json:"last_modified"`
		LastSyncedAt    *time.Time `json:"last_synced_at"`
		RecentPostCount int        `json:"recent_post_count"`
		// How long a new post of this feed stays fresh, e.g. "24h0m0s".
		FreshnessWindow string `json:"freshness_window"`
	}
)

// Validate checks that the body (minus logic checks) is valid.
func (r TriggerRequest) Validate() error {
	var errs []rerrs.Detail
	for _, id := range r.FeedIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, rerrs.Detail{Field: "feed_ids", Error: "ids must not be blank"})
			break
		}
	}
	if len(errs) > 0 {
		return rerrs.E("invalid request", http.StatusBadRequest, errs)
	}

	return nil
}
