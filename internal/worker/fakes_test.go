package worker

import (
	"context"
	"sync"
	"time"

	"github.com/lavoncyk/rss-reader/internal/fetch"
	"github.com/lavoncyk/rss-reader/internal/reader"
)

// In memory store. Writes made inside InTx are staged and only applied if
// the callback succeeds.
type fakeStore struct {
	mu    sync.Mutex
	feeds map[string]reader.Feed
	order []string
	posts []reader.Post

	// Feed ids whose post insert fails
	failInsert map[string]error
	allErr     error
	txCount    int
}

func newFakeStore(feeds ...reader.Feed) *fakeStore {
	s := &fakeStore{
		feeds:      map[string]reader.Feed{},
		failInsert: map[string]error{},
	}
	for _, f := range feeds {
		s.feeds[f.ID] = f
		s.order = append(s.order, f.ID)
	}

	return s
}

func (s *fakeStore) AllFeeds(ctx context.Context) ([]reader.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allErr != nil {
		return nil, s.allErr
	}

	feeds := make([]reader.Feed, 0, len(s.order))
	for _, id := range s.order {
		feeds = append(feeds, s.feeds[id])
	}

	return feeds, nil
}

func (s *fakeStore) Feed(ctx context.Context, id string) (reader.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[id]
	if !ok {
		return reader.Feed{}, reader.ErrNotFound
	}

	return f, nil
}

func (s *fakeStore) InTx(ctx context.Context, fn func(reader.SyncWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	tx := &fakeTx{store: s, updates: map[string]reader.UpdateSyncStateArgs{}}
	if err := fn(tx); err != nil {
		return err
	}

	s.posts = append(s.posts, tx.posts...)
	for id, args := range tx.updates {
		f := s.feeds[id]
		f.ETag = args.ETag
		f.LastModified = args.LastModified
		synced := args.LastSyncedAt
		f.LastSyncedAt = &synced
		f.RecentPostCount = args.RecentPostCount
		s.feeds[id] = f
	}

	return nil
}

func (s *fakeStore) feed(id string) reader.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.feeds[id]
}

func (s *fakeStore) feedPosts(id string) []reader.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	var posts []reader.Post
	for _, p := range s.posts {
		if p.FeedID == id {
			posts = append(posts, p)
		}
	}

	return posts
}

func (s *fakeStore) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.txCount
}

// Runs with the store lock held.
type fakeTx struct {
	store   *fakeStore
	posts   []reader.Post
	updates map[string]reader.UpdateSyncStateArgs
}

func (tx *fakeTx) InsertPosts(ctx context.Context, posts []reader.Post) error {
	for _, p := range posts {
		if err := tx.store.failInsert[p.FeedID]; err != nil {
			return err
		}
	}

	tx.posts = append(tx.posts, posts...)
	return nil
}

func (tx *fakeTx) CountRecentPosts(ctx context.Context, feedID string, since time.Time) (int, error) {
	count := 0
	for _, p := range append(append([]reader.Post{}, tx.store.posts...), tx.posts...) {
		if p.FeedID == feedID && !p.PublishedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

func (tx *fakeTx) UpdateFeedSyncState(ctx context.Context, feedID string, args reader.UpdateSyncStateArgs) error {
	if _, ok := tx.store.feeds[feedID]; !ok {
		return reader.ErrNotFound
	}

	tx.updates[feedID] = args
	return nil
}

// Fetcher stub keyed by source url.
type fakeFetcher struct {
	mu    sync.Mutex
	fn    map[string]func(ctx context.Context, etag, lastModified *string) (fetch.Outcome, error)
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		fn:    map[string]func(ctx context.Context, etag, lastModified *string) (fetch.Outcome, error){},
		calls: map[string]int{},
	}
}

func (f *fakeFetcher) on(sourceURL string, fn func(ctx context.Context, etag, lastModified *string) (fetch.Outcome, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fn[sourceURL] = fn
}

func (f *fakeFetcher) Fetch(ctx context.Context, sourceURL string, etag, lastModified *string) (fetch.Outcome, error) {
	f.mu.Lock()
	fn, ok := f.fn[sourceURL]
	f.calls[sourceURL]++
	f.mu.Unlock()

	if !ok {
		return fetch.Outcome{}, &fetch.Error{Kind: fetch.KindStatus, URL: sourceURL, Status: 404}
	}

	return fn(ctx, etag, lastModified)
}

func (f *fakeFetcher) callCount(sourceURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[sourceURL]
}

func entries(es ...fetch.Entry) func(context.Context, *string, *string) (fetch.Outcome, error) {
	return func(context.Context, *string, *string) (fetch.Outcome, error) {
		return fetch.Outcome{Entries: es}, nil
	}
}

func ptr[T any](v T) *T { return &v }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
