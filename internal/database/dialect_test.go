package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavoncyk/rss-reader/internal/reader"
)

func TestStatements(t *testing.T) {
	var (
		synced = time.Date(2024, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
		since  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		state  = reader.UpdateSyncStateArgs{
			ETag:            ptr(`"v1"`),
			LastSyncedAt:    synced,
			RecentPostCount: 4,
		}
		pg   = Repo{sb: statementBuilder(DriverPostgres)}
		lite = Repo{sb: statementBuilder(DriverSQLite)}
	)

	tests := []struct {
		name     string
		stmt     sq.Sqlizer
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "postgres sync state update",
			stmt:     pg.syncStateUpdate("f", state),
			wantSQL:  "UPDATE feeds SET etag = $1, last_modified = $2, last_synced_at = $3, recent_post_count = $4 WHERE id = $5",
			wantArgs: []any{state.ETag, (*string)(nil), synced.Truncate(time.Second), 4, "f"},
		},
		{
			name:     "sqlite sync state update",
			stmt:     lite.syncStateUpdate("f", state),
			wantSQL:  "UPDATE feeds SET etag = ?, last_modified = ?, last_synced_at = ?, recent_post_count = ? WHERE id = ?",
			wantArgs: []any{state.ETag, (*string)(nil), synced.Truncate(time.Second), 4, "f"},
		},
		{
			name:     "postgres recent post count",
			stmt:     pg.recentPostsCount("f", since),
			wantSQL:  "SELECT COUNT(*) FROM posts WHERE feed_id = $1 AND published_at >= $2",
			wantArgs: []any{"f", since},
		},
		{
			name:     "postgres delete except",
			stmt:     pg.deleteExceptQuery("feeds", []string{"a", "b"}),
			wantSQL:  "DELETE FROM feeds WHERE id NOT IN ($1,$2)",
			wantArgs: []any{"a", "b"},
		},
		{
			name:    "postgres delete everything",
			stmt:    pg.deleteExceptQuery("categories", nil),
			wantSQL: "DELETE FROM categories",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := tt.stmt.ToSql()
			require.NoError(t, err)

			assert.Equal(t, tt.wantSQL, query)
			if len(tt.wantArgs) == 0 {
				assert.Empty(t, args)
				return
			}
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "postgres unique violation", err: fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), want: true},
		{name: "postgres foreign key violation", err: &pq.Error{Code: "23503"}, want: false},
		{name: "other error", err: errors.New("connection reset"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
