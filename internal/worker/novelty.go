package worker

import (
	"time"

	"github.com/lavoncyk/rss-reader/internal/fetch"
)

// FilterNew keeps the entries published strictly after the feed's last
// sync. A feed that was never synced has nothing to compare against, so
// every entry is new.
//
// This is a timestamp watermark, not a set of seen ids: an entry whose
// publish date is moved forward by the publisher gets ingested again.
func FilterNew(entries []fetch.Entry, prior *time.Time) []fetch.Entry {
	if prior == nil {
		return entries
	}

	var fresh []fetch.Entry
	for _, e := range entries {
		if e.PublishedAt.After(*prior) {
			fresh = append(fresh, e)
		}
	}

	return fresh
}
