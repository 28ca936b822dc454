// Package hierarchy resolves category names to catalog rows, creating the
// rows that do not exist yet.
package hierarchy

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/awesync/internal/awesome"
)

// Level names a depth of the taxonomy.
type Level string

const (
	LevelCategory       Level = "category"
	LevelSubcategory    Level = "subcategory"
	LevelSubSubcategory Level = "sub_subcategory"
)

const cacheSize = 1024

// LevelError is returned when a level could not be looked up or created.
type LevelError struct {
	Level Level
	Name  string
	Err   error
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("error ensuring %s %q: %s", e.Level, e.Name, e.Err)
}

func (e *LevelError) Unwrap() error {
	return e.Err
}

type cacheKey struct {
	category, subcategory, subSubcategory string
}

// Reconciler ensures hierarchy rows exist. It caches ids, so one should be
// created per sync run.
type Reconciler struct {
	store  awesome.HierarchyService
	upsert awesome.HierarchyUpserter
	cache  *lru.Cache[cacheKey, string]
}

// New returns a Reconciler over store. When the store can insert-or-get
// atomically that path is used.
func New(store awesome.HierarchyService) *Reconciler {
	cache, err := lru.New[cacheKey, string](cacheSize)
	if err != nil {
		// Only fails for a non-positive size.
		panic(err)
	}

	r := &Reconciler{store: store, cache: cache}
	if u, ok := store.(awesome.HierarchyUpserter); ok {
		r.upsert = u
	}
	return r
}

// Ensure returns the ids for the given names, creating missing rows. A
// sub-subcategory is ignored when there is no subcategory.
func (r *Reconciler) Ensure(ctx context.Context, category, subcategory, subSubcategory string) (awesome.Placement, error) {
	var ids awesome.Placement
	if category == "" {
		return ids, &LevelError{Level: LevelCategory, Err: errors.New("name is empty")}
	}

	catID, err := r.category(ctx, category)
	if err != nil {
		return ids, err
	}
	ids.CategoryID = catID
	if subcategory == "" {
		return ids, nil
	}

	subID, err := r.subcategory(ctx, catID, cacheKey{category: category, subcategory: subcategory})
	if err != nil {
		return ids, err
	}
	ids.SubcategoryID = subID
	if subSubcategory == "" {
		return ids, nil
	}

	leafID, err := r.subSubcategory(ctx, subID, cacheKey{category, subcategory, subSubcategory})
	if err != nil {
		return ids, err
	}
	ids.SubSubcategoryID = leafID

	return ids, nil
}

func (r *Reconciler) category(ctx context.Context, name string) (string, error) {
	key := cacheKey{category: name}
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	row := awesome.Category{Name: name, Slug: awesome.Slugify(name)}
	var err error
	if r.upsert != nil {
		row, err = r.upsert.EnsureCategory(ctx, row)
	} else {
		row, err = lookupOrInsert(ctx,
			func(ctx context.Context) (awesome.Category, error) { return r.store.CategoryByName(ctx, name) },
			func(ctx context.Context) (awesome.Category, error) { return r.store.InsertCategory(ctx, row) },
		)
	}
	if err != nil {
		return "", &LevelError{Level: LevelCategory, Name: name, Err: err}
	}

	r.cache.Add(key, row.ID)
	return row.ID, nil
}

func (r *Reconciler) subcategory(ctx context.Context, categoryID string, key cacheKey) (string, error) {
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	name := key.subcategory
	row := awesome.Subcategory{Name: name, Slug: awesome.Slugify(name), CategoryID: categoryID}
	var err error
	if r.upsert != nil {
		row, err = r.upsert.EnsureSubcategory(ctx, row)
	} else {
		row, err = lookupOrInsert(ctx,
			func(ctx context.Context) (awesome.Subcategory, error) {
				return r.store.SubcategoryByName(ctx, categoryID, name)
			},
			func(ctx context.Context) (awesome.Subcategory, error) { return r.store.InsertSubcategory(ctx, row) },
		)
	}
	if err != nil {
		return "", &LevelError{Level: LevelSubcategory, Name: name, Err: err}
	}

	r.cache.Add(key, row.ID)
	return row.ID, nil
}

func (r *Reconciler) subSubcategory(ctx context.Context, subcategoryID string, key cacheKey) (string, error) {
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	name := key.subSubcategory
	row := awesome.SubSubcategory{Name: name, Slug: awesome.Slugify(name), SubcategoryID: subcategoryID}
	var err error
	if r.upsert != nil {
		row, err = r.upsert.EnsureSubSubcategory(ctx, row)
	} else {
		row, err = lookupOrInsert(ctx,
			func(ctx context.Context) (awesome.SubSubcategory, error) {
				return r.store.SubSubcategoryByName(ctx, subcategoryID, name)
			},
			func(ctx context.Context) (awesome.SubSubcategory, error) { return r.store.InsertSubSubcategory(ctx, row) },
		)
	}
	if err != nil {
		return "", &LevelError{Level: LevelSubSubcategory, Name: name, Err: err}
	}

	r.cache.Add(key, row.ID)
	return row.ID, nil
}

// lookupOrInsert is the fallback for stores without an atomic upsert. A
// conflicting insert means a concurrent writer created the row first, so it
// is fetched again.
func lookupOrInsert[T any](
	ctx context.Context,
	lookup func(context.Context) (T, error),
	insert func(context.Context) (T, error),
) (T, error) {
	var zero T

	found, err := lookup(ctx)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, awesome.ErrNotFound) {
		return zero, fmt.Errorf("error looking up: %w", err)
	}

	created, err := insert(ctx)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, awesome.ErrConflict) {
		return zero, fmt.Errorf("error inserting: %w", err)
	}

	found, err = lookup(ctx)
	if err != nil {
		return zero, fmt.Errorf("error refetching after conflict: %w", err)
	}
	return found, nil
}
