// Package fetch retrieves a feed document with a conditional GET and
// normalizes its entries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

const (
	// Feeds bigger than this are cut off and will most likely fail to parse.
	maxBodySize = 10 << 20

	maxTitleLen = 512

	// Number of hosts a Fetcher keeps a limiter for.
	hostLimiterCacheSize = 1024

	DefaultUserAgent = "rss-reader/1.0 (+https://github.com/lavoncyk/rss-reader)"
)

type Kind int

const (
	// The request never produced a response: DNS, connect, TLS, timeout or
	// cancellation.
	KindNetwork Kind = iota + 1
	// The publisher answered with something other than 2xx or 304.
	KindStatus
	// The body could not be parsed as a feed.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStatus:
		return "status"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by Fetch for any failure that leaves the feed unsynced.
type Error struct {
	Kind   Kind
	URL    string
	Status int // Only set for KindStatus
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetching %s: unexpected status code %d", e.URL, e.Status)
	}

	return fmt.Sprintf("fetching %s: %s: %s", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a fetch *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fErr *Error
	return errors.As(err, &fErr) && fErr.Kind == kind
}

type (
	// Entry is a normalized feed item. Every field is populated.
	Entry struct {
		Title       string
		Link        string
		GUID        string
		PublishedAt time.Time // UTC
	}

	// EntryError describes an item that was left out of an Outcome.
	EntryError struct {
		Index  int // Position of the item in the document
		GUID   string
		Reason string
	}

	// Outcome is the result of a successful fetch.
	Outcome struct {
		Entries []Entry
		// Tokens from the response. When NotModified is set these are the
		// ones that were sent.
		ETag         *string
		LastModified *string
		NotModified  bool
		Invalid      []*EntryError
	}
)

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d (%q): %s", e.Index, e.GUID, e.Reason)
}

type Config struct {
	UserAgent string
	// Minimum spacing between requests to the same host. Zero disables it.
	PerHostInterval time.Duration
}

// Fetcher performs conditional fetches. It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	interval  time.Duration

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// New creates a Fetcher using the given client. A nil client means
// http.DefaultClient; deadlines come from the context passed to Fetch.
func New(client *http.Client, cfg Config) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	// Only errors for a non-positive size
	limiters, _ := lru.New[string, *rate.Limiter](hostLimiterCacheSize)

	return &Fetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		interval:  cfg.PerHostInterval,
		limiters:  limiters,
	}
}

// Fetch retrieves the feed at sourceURL, sending whichever of the stored
// tokens are present as conditional headers.
//
// Entries are returned in document order. Nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string, etag, lastModified *string) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Outcome{}, &Error{Kind: KindNetwork, URL: sourceURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	if etag != nil && *etag != "" {
		req.Header.Set("If-None-Match", *etag)
	}
	if lastModified != nil && *lastModified != "" {
		req.Header.Set("If-Modified-Since", *lastModified)
	}

	if err := f.wait(ctx, req.URL); err != nil {
		return Outcome{}, &Error{Kind: KindNetwork, URL: sourceURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Outcome{}, &Error{Kind: KindNetwork, URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		// A 304 may carry fresh validators; keep what was sent otherwise
		return Outcome{
			ETag:         orPrior(header(resp, "ETag"), etag),
			LastModified: orPrior(header(resp, "Last-Modified"), lastModified),
			NotModified:  true,
		}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Outcome{}, &Error{Kind: KindStatus, URL: sourceURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Outcome{}, &Error{Kind: KindNetwork, URL: sourceURL, Err: fmt.Errorf("error reading body: %w", err)}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return Outcome{}, &Error{Kind: KindMalformed, URL: sourceURL, Err: err}
	}

	out := Outcome{
		ETag:         header(resp, "ETag"),
		LastModified: header(resp, "Last-Modified"),
	}
	for i, item := range feed.Items {
		entry, entryErr := normalize(i, item)
		if entryErr != nil {
			out.Invalid = append(out.Invalid, entryErr)
			continue
		}
		out.Entries = append(out.Entries, entry)
	}

	return out, nil
}

// Blocks until the host's limiter lets the request through.
func (f *Fetcher) wait(ctx context.Context, u *url.URL) error {
	if f.interval <= 0 {
		return nil
	}

	f.mu.Lock()
	lim, ok := f.limiters.Get(u.Host)
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.interval), 1)
		f.limiters.Add(u.Host, lim)
	}
	f.mu.Unlock()

	return lim.Wait(ctx)
}

func header(resp *http.Response, key string) *string {
	v := strings.TrimSpace(resp.Header.Get(key))
	if v == "" {
		return nil
	}

	return &v
}

func orPrior(v, prior *string) *string {
	if v != nil {
		return v
	}

	return prior
}

func normalize(i int, item *gofeed.Item) (Entry, *EntryError) {
	if item == nil {
		return Entry{}, &EntryError{Index: i, Reason: "empty item"}
	}

	entry := Entry{
		Title: sanitize(item.Title),
		Link:  strings.TrimSpace(item.Link),
		GUID:  strings.TrimSpace(item.GUID),
	}
	if entry.Link == "" && len(item.Links) > 0 {
		entry.Link = strings.TrimSpace(item.Links[0])
	}
	if entry.GUID == "" {
		entry.GUID = entry.Link
	}

	// Atom only requires <updated>
	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}

	switch {
	case entry.Title == "":
		return Entry{}, &EntryError{Index: i, GUID: entry.GUID, Reason: "missing title"}
	case entry.Link == "":
		return Entry{}, &EntryError{Index: i, GUID: entry.GUID, Reason: "missing link"}
	case published == nil || published.IsZero():
		return Entry{}, &EntryError{Index: i, GUID: entry.GUID, Reason: "missing or unparseable publish time"}
	}
	// Stored at second precision, so compared at it too
	entry.PublishedAt = published.UTC().Truncate(time.Second)

	return entry, nil
}

var stripPolicy = bluemonday.StrictPolicy()

// Reduces the title to plain text and caps its length.
func sanitize(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxTitleLen {
		s = string(r[:maxTitleLen])
	}

	return s
}
