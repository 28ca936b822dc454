package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/awesync/internal/awesome"
)

const (
	categoryNamespace       = "-cat"
	subcategoryNamespace    = "-sub"
	subSubcategoryNamespace = "-ssub"
)

// Concurrent writers can claim the same free slug; each loser moves on to the
// next one.
const slugAttempts = 5

// Used when a name has no alphanumerics at all.
const fallbackSlug = "untitled"

// slugScope is the set of rows a slug must be unique within.
type slugScope struct {
	table     string
	parentCol string
	parentID  string
}

// slugBase is the slug asked for, or one derived from the name.
func slugBase(name, slug string) string {
	if s := awesome.Slugify(slug); s != "" {
		return s
	}
	if s := awesome.Slugify(name); s != "" {
		return s
	}
	return fallbackSlug
}

// freeSlug returns base, or base-N with the lowest N >= 2 not yet used in the
// scope. "C" and "C++" therefore become "c" and "c-2".
func (r Repo) freeSlug(ctx context.Context, scope slugScope, base string) (string, error) {
	q := sq.Select("slug").
		From(scope.table).
		Where(sq.Or{sq.Eq{"slug": base}, sq.Like{"slug": base + "-%"}})
	if scope.parentCol != "" {
		q = q.Where(sq.Eq{scope.parentCol: scope.parentID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("error constructing sql: %w", err)
	}
	var slugs []string
	if err := r.db.SelectContext(ctx, &slugs, query, args...); err != nil {
		return "", fmt.Errorf("error listing slugs: %w", err)
	}

	taken := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		taken[s] = true
	}
	slug := base
	for n := 2; taken[slug]; n++ {
		slug = fmt.Sprintf("%s-%d", base, n)
	}
	return slug, nil
}

// claimSlug calls insert with free slugs until it reports done or fails.
// insert returns done=false when the slug was taken underneath it.
func (r Repo) claimSlug(ctx context.Context, scope slugScope, base string, insert func(slug string) (bool, error)) error {
	for i := 0; i < slugAttempts; i++ {
		slug, err := r.freeSlug(ctx, scope, base)
		if err != nil {
			return err
		}
		done, err := insert(slug)
		if err != nil || done {
			return err
		}
	}

	return fmt.Errorf("no free slug for %q in %s: %w", base, scope.table, awesome.ErrConflict)
}

func (r Repo) CategoryByName(ctx context.Context, name string) (awesome.Category, error) {
	const q = `SELECT * FROM categories WHERE name = ?;`

	var c awesome.Category
	err := r.db.GetContext(ctx, &c, q, name)
	if errors.Is(err, sql.ErrNoRows) {
		return awesome.Category{}, awesome.ErrNotFound
	}
	if err != nil {
		return awesome.Category{}, fmt.Errorf("error fetching category: %w", err)
	}

	return c, nil
}

// InsertCategory stores a new category, suffixing its slug when another
// category already uses it. A taken name is ErrConflict.
func (r Repo) InsertCategory(ctx context.Context, c awesome.Category) (awesome.Category, error) {
	const q = `INSERT INTO categories (id, name, slug) VALUES (:id, :name, :slug);`

	c.ID = newID(categoryNamespace)
	err := r.claimSlug(ctx, slugScope{table: "categories"}, slugBase(c.Name, c.Slug), func(slug string) (bool, error) {
		c.Slug = slug
		_, err := r.db.NamedExecContext(ctx, q, c)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, fmt.Errorf("error inserting category: %w", err)
		}
		if _, err := r.CategoryByName(ctx, c.Name); err == nil {
			return false, fmt.Errorf("category %q already exists: %w", c.Name, awesome.ErrConflict)
		}
		return false, nil
	})
	if err != nil {
		return awesome.Category{}, err
	}

	return r.CategoryByName(ctx, c.Name)
}

// EnsureCategory inserts the category unless one with the same name exists,
// and returns the stored row either way.
func (r Repo) EnsureCategory(ctx context.Context, c awesome.Category) (awesome.Category, error) {
	const q = `INSERT INTO categories (id, name, slug) VALUES (:id, :name, :slug)
	ON CONFLICT DO NOTHING;`

	c.ID = newID(categoryNamespace)
	var stored awesome.Category
	err := r.claimSlug(ctx, slugScope{table: "categories"}, slugBase(c.Name, c.Slug), func(slug string) (bool, error) {
		c.Slug = slug
		if _, err := r.db.NamedExecContext(ctx, q, c); err != nil {
			return false, fmt.Errorf("error ensuring category: %w", err)
		}
		var err error
		stored, err = r.CategoryByName(ctx, c.Name)
		if errors.Is(err, awesome.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})

	return stored, err
}

func (r Repo) SubcategoryByName(ctx context.Context, categoryID, name string) (awesome.Subcategory, error) {
	const q = `SELECT * FROM subcategories WHERE category_id = ? AND name = ?;`

	var s awesome.Subcategory
	err := r.db.GetContext(ctx, &s, q, categoryID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return awesome.Subcategory{}, awesome.ErrNotFound
	}
	if err != nil {
		return awesome.Subcategory{}, fmt.Errorf("error fetching subcategory: %w", err)
	}

	return s, nil
}

func subcategoryScope(categoryID string) slugScope {
	return slugScope{table: "subcategories", parentCol: "category_id", parentID: categoryID}
}

func (r Repo) InsertSubcategory(ctx context.Context, s awesome.Subcategory) (awesome.Subcategory, error) {
	const q = `INSERT INTO subcategories (id, category_id, name, slug)
	VALUES (:id, :category_id, :name, :slug);`

	s.ID = newID(subcategoryNamespace)
	err := r.claimSlug(ctx, subcategoryScope(s.CategoryID), slugBase(s.Name, s.Slug), func(slug string) (bool, error) {
		s.Slug = slug
		_, err := r.db.NamedExecContext(ctx, q, s)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, fmt.Errorf("error inserting subcategory: %w", err)
		}
		if _, err := r.SubcategoryByName(ctx, s.CategoryID, s.Name); err == nil {
			return false, fmt.Errorf("subcategory %q already exists: %w", s.Name, awesome.ErrConflict)
		}
		return false, nil
	})
	if err != nil {
		return awesome.Subcategory{}, err
	}

	return r.SubcategoryByName(ctx, s.CategoryID, s.Name)
}

func (r Repo) EnsureSubcategory(ctx context.Context, s awesome.Subcategory) (awesome.Subcategory, error) {
	const q = `INSERT INTO subcategories (id, category_id, name, slug)
	VALUES (:id, :category_id, :name, :slug)
	ON CONFLICT DO NOTHING;`

	s.ID = newID(subcategoryNamespace)
	var stored awesome.Subcategory
	err := r.claimSlug(ctx, subcategoryScope(s.CategoryID), slugBase(s.Name, s.Slug), func(slug string) (bool, error) {
		s.Slug = slug
		if _, err := r.db.NamedExecContext(ctx, q, s); err != nil {
			return false, fmt.Errorf("error ensuring subcategory: %w", err)
		}
		var err error
		stored, err = r.SubcategoryByName(ctx, s.CategoryID, s.Name)
		if errors.Is(err, awesome.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})

	return stored, err
}

func (r Repo) SubSubcategoryByName(ctx context.Context, subcategoryID, name string) (awesome.SubSubcategory, error) {
	const q = `SELECT * FROM sub_subcategories WHERE subcategory_id = ? AND name = ?;`

	var s awesome.SubSubcategory
	err := r.db.GetContext(ctx, &s, q, subcategoryID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return awesome.SubSubcategory{}, awesome.ErrNotFound
	}
	if err != nil {
		return awesome.SubSubcategory{}, fmt.Errorf("error fetching sub-subcategory: %w", err)
	}

	return s, nil
}

func subSubcategoryScope(subcategoryID string) slugScope {
	return slugScope{table: "sub_subcategories", parentCol: "subcategory_id", parentID: subcategoryID}
}

func (r Repo) InsertSubSubcategory(ctx context.Context, s awesome.SubSubcategory) (awesome.SubSubcategory, error) {
	const q = `INSERT INTO sub_subcategories (id, subcategory_id, name, slug)
	VALUES (:id, :subcategory_id, :name, :slug);`

	s.ID = newID(subSubcategoryNamespace)
	err := r.claimSlug(ctx, subSubcategoryScope(s.SubcategoryID), slugBase(s.Name, s.Slug), func(slug string) (bool, error) {
		s.Slug = slug
		_, err := r.db.NamedExecContext(ctx, q, s)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, fmt.Errorf("error inserting sub-subcategory: %w", err)
		}
		if _, err := r.SubSubcategoryByName(ctx, s.SubcategoryID, s.Name); err == nil {
			return false, fmt.Errorf("sub-subcategory %q already exists: %w", s.Name, awesome.ErrConflict)
		}
		return false, nil
	})
	if err != nil {
		return awesome.SubSubcategory{}, err
	}

	return r.SubSubcategoryByName(ctx, s.SubcategoryID, s.Name)
}

func (r Repo) EnsureSubSubcategory(ctx context.Context, s awesome.SubSubcategory) (awesome.SubSubcategory, error) {
	const q = `INSERT INTO sub_subcategories (id, subcategory_id, name, slug)
	VALUES (:id, :subcategory_id, :name, :slug)
	ON CONFLICT DO NOTHING;`

	s.ID = newID(subSubcategoryNamespace)
	var stored awesome.SubSubcategory
	err := r.claimSlug(ctx, subSubcategoryScope(s.SubcategoryID), slugBase(s.Name, s.Slug), func(slug string) (bool, error) {
		s.Slug = slug
		if _, err := r.db.NamedExecContext(ctx, q, s); err != nil {
			return false, fmt.Errorf("error ensuring sub-subcategory: %w", err)
		}
		var err error
		stored, err = r.SubSubcategoryByName(ctx, s.SubcategoryID, s.Name)
		if errors.Is(err, awesome.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})

	return stored, err
}
