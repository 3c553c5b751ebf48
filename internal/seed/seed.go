// Package seed loads the list of categories and feeds from a YAML file into
// the store.
package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lavoncyk/rss-reader/internal/database"
	"github.com/lavoncyk/rss-reader/internal/reader"
)

type (
	// File is the layout of the feeds file:
	//
	//	categories:
	//	  - name: Tech
	//	    slug: tech
	//	    feeds:
	//	      - name: Go Blog
	//	        url: https://go.dev/blog
	//	        rss: https://go.dev/blog/feed.atom
	File struct {
		Categories []Category `yaml:"categories"`
	}

	Category struct {
		Name  string `yaml:"name"`
		Slug  string `yaml:"slug"`
		Feeds []Feed `yaml:"feeds"`
	}

	Feed struct {
		Name string `yaml:"name"`
		URL  string `yaml:"url"`
		// Falls back to URL when empty.
		RSS string `yaml:"rss"`
	}

	// Summary counts what Apply did.
	Summary struct {
		Categories        int
		Feeds             int
		DeletedFeeds      int64
		DeletedCategories int64
	}
)

func (f Feed) sourceURL() string {
	if f.RSS != "" {
		return strings.TrimSpace(f.RSS)
	}

	return strings.TrimSpace(f.URL)
}

// Load reads and validates a feeds file.
func Load(path string) (File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("error opening feeds file: %s", err)
	}
	defer fd.Close()

	return Decode(fd)
}

func Decode(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("invalid feeds file: %w", err)
	}

	if err := f.validate(); err != nil {
		return File{}, err
	}

	return f, nil
}

func (f File) validate() error {
	var (
		slugs   = map[string]bool{}
		sources = map[string]bool{}
	)
	for i, c := range f.Categories {
		if c.Slug == "" {
			return fmt.Errorf("category %d: slug is required", i)
		}
		if slugs[c.Slug] {
			return fmt.Errorf("category %q: duplicate slug", c.Slug)
		}
		slugs[c.Slug] = true

		for j, feed := range c.Feeds {
			src := feed.sourceURL()
			if src == "" {
				return fmt.Errorf("category %q, feed %d: rss or url is required", c.Slug, j)
			}
			if sources[src] {
				return fmt.Errorf("feed %q: listed more than once", src)
			}
			sources[src] = true
		}
	}

	return nil
}

// Apply creates or updates every category and feed in f in one transaction.
// Feeds are matched by their rss url, so their sync state survives a reload.
//
// With prune set, feeds and categories missing from f are deleted, posts
// included.
func Apply(ctx context.Context, repo database.Repo, f File, prune bool) (Summary, error) {
	var sum Summary
	err := repo.WithTx(ctx, func(tx database.Repo) error {
		var categoryIDs, feedIDs []string

		for _, c := range f.Categories {
			name := c.Name
			if name == "" {
				name = c.Slug
			}
			cat, err := tx.UpsertCategory(ctx, reader.Category{Name: name, Slug: c.Slug})
			if err != nil {
				return fmt.Errorf("error saving category %q: %w", c.Slug, err)
			}
			categoryIDs = append(categoryIDs, cat.ID)
			sum.Categories++

			for _, fd := range c.Feeds {
				name := fd.Name
				if name == "" {
					name = fd.sourceURL()
				}
				feed, err := tx.UpsertFeed(ctx, reader.Feed{
					CategoryID: &cat.ID,
					Name:       name,
					URL:        fd.URL,
					SourceURL:  fd.sourceURL(),
				})
				if err != nil {
					return fmt.Errorf("error saving feed %q: %w", fd.sourceURL(), err)
				}
				feedIDs = append(feedIDs, feed.ID)
				sum.Feeds++
			}
		}

		if !prune {
			return nil
		}

		n, err := tx.DeleteFeedsExcept(ctx, feedIDs)
		if err != nil {
			return err
		}
		sum.DeletedFeeds = n

		n, err = tx.DeleteCategoriesExcept(ctx, categoryIDs)
		if err != nil {
			return err
		}
		sum.DeletedCategories = n

		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	slog.InfoContext(ctx, "applied feeds file",
		"categories", sum.Categories,
		"feeds", sum.Feeds,
		"deleted_feeds", sum.DeletedFeeds,
		"deleted_categories", sum.DeletedCategories,
	)

	return sum, nil
}
