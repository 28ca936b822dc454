package awesome

import (
	"context"
	"strings"
	"time"
)

type (
	// Placement holds the taxonomy row ids a resource is filed under. Unused
	// levels are empty.
	Placement struct {
		CategoryID       string
		SubcategoryID    string
		SubSubcategoryID string
	}

	Category struct {
		ID        string    `db:"id" json:"id"`
		Name      string    `db:"name" json:"name"`
		Slug      string    `db:"slug" json:"slug"`
		CreatedAt time.Time `db:"created_at" json:"created_at"`
	}

	Subcategory struct {
		ID         string    `db:"id" json:"id"`
		Name       string    `db:"name" json:"name"`
		Slug       string    `db:"slug" json:"slug"`
		CategoryID string    `db:"category_id" json:"category_id"`
		CreatedAt  time.Time `db:"created_at" json:"created_at"`
	}

	SubSubcategory struct {
		ID            string    `db:"id" json:"id"`
		Name          string    `db:"name" json:"name"`
		Slug          string    `db:"slug" json:"slug"`
		SubcategoryID string    `db:"subcategory_id" json:"subcategory_id"`
		CreatedAt     time.Time `db:"created_at" json:"created_at"`
	}

	// HierarchyService is the lookup/insert surface for the taxonomy.
	//
	// Inserts return ErrConflict when a row with the same name already exists
	// under the same parent. Slugs are unique per parent too; a store gives a
	// row whose slug is taken by another name the next free "-N" suffix.
	HierarchyService interface {
		CategoryByName(ctx context.Context, name string) (Category, error)
		InsertCategory(ctx context.Context, c Category) (Category, error)
		SubcategoryByName(ctx context.Context, categoryID, name string) (Subcategory, error)
		InsertSubcategory(ctx context.Context, s Subcategory) (Subcategory, error)
		SubSubcategoryByName(ctx context.Context, subcategoryID, name string) (SubSubcategory, error)
		InsertSubSubcategory(ctx context.Context, s SubSubcategory) (SubSubcategory, error)
	}

	// HierarchyUpserter is implemented by stores that can insert-or-get a
	// hierarchy row in a single atomic statement.
	HierarchyUpserter interface {
		EnsureCategory(ctx context.Context, c Category) (Category, error)
		EnsureSubcategory(ctx context.Context, s Subcategory) (Subcategory, error)
		EnsureSubSubcategory(ctx context.Context, s SubSubcategory) (SubSubcategory, error)
	}
)

// Slugify lowercases name, turns every run of non-alphanumerics into a single
// hyphen and trims hyphens from both ends.
func Slugify(name string) string {
	var (
		b      strings.Builder
		hyphen bool
	)
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}

	return strings.TrimRight(b.String(), "-")
}
