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

func (r Repo) CategoryBySlug(ctx context.Context, slug string) (reader.Category, error) {
	q := r.db.Rebind(`SELECT * FROM categories WHERE slug = ?;`)

	var c reader.Category
	err := r.db.GetContext(ctx, &c, q, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return reader.Category{}, reader.ErrNotFound
	}
	if err != nil {
		return reader.Category{}, fmt.Errorf("error fetching category: %s", err)
	}

	return c, nil
}

// UpsertCategory creates the category or renames the existing one with the
// same slug.
func (r Repo) UpsertCategory(ctx context.Context, c reader.Category) (reader.Category, error) {
	existing, err := r.CategoryBySlug(ctx, c.Slug)
	if errors.Is(err, reader.ErrNotFound) {
		const q = `INSERT INTO categories (id, name, slug) VALUES (:id, :name, :slug);`

		c.ID = fmt.Sprintf("%s%s", uuid.NewString(), categoryNamespace)
		_, err := r.db.NamedExecContext(ctx, q, c)
		if isUniqueViolation(err) {
			return reader.Category{}, fmt.Errorf("category already exists: %w", reader.ErrConflict)
		}
		if err != nil {
			return reader.Category{}, fmt.Errorf("error inserting category: %s", err)
		}

		return r.CategoryBySlug(ctx, c.Slug)
	}
	if err != nil {
		return reader.Category{}, err
	}

	query, args, err := r.sb.Update("categories").
		Set("name", c.Name).
		Where(sq.Eq{"id": existing.ID}).
		ToSql()
	if err != nil {
		return reader.Category{}, fmt.Errorf("error constructing sql: %s", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return reader.Category{}, fmt.Errorf("error updating category: %s", err)
	}

	existing.Name = c.Name
	return existing, nil
}

// DeleteCategoriesExcept removes every category whose id is not in keep.
func (r Repo) DeleteCategoriesExcept(ctx context.Context, keep []string) (int64, error) {
	return r.deleteExcept(ctx, "categories", keep)
}
