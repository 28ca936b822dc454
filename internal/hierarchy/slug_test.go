package hierarchy

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/migrations"
	awsqlite "github.com/jdholdren/awesync/internal/sqlite"
)

func newSqliteRepo(t *testing.T) awsqlite.Repo {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Run(db))
	return awsqlite.New(db)
}

// lookupOnly hides the store's upsert methods.
type lookupOnly struct {
	awesome.HierarchyService
}

func TestEnsure_SlugCollision(t *testing.T) {
	tests := []struct {
		name  string
		store func(awsqlite.Repo) awesome.HierarchyService
	}{
		{name: "upsert", store: func(r awsqlite.Repo) awesome.HierarchyService { return r }},
		{name: "lookup then insert", store: func(r awsqlite.Repo) awesome.HierarchyService { return lookupOnly{r} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newSqliteRepo(t)
			r := New(tt.store(repo))

			c, err := r.Ensure(ctx, "C", "Web", "")
			require.NoError(t, err)
			cpp, err := r.Ensure(ctx, "C++", "Web", "")
			require.NoError(t, err)
			webDev, err := r.Ensure(ctx, "C++", "Web Dev", "Web")
			require.NoError(t, err)
			webDot, err := r.Ensure(ctx, "C++", "Web Dev", "Web.")
			require.NoError(t, err)

			assert.NotEqual(t, c.CategoryID, cpp.CategoryID)
			assert.NotEqual(t, webDev.SubSubcategoryID, webDot.SubSubcategoryID)

			first, err := repo.CategoryByName(ctx, "C")
			require.NoError(t, err)
			second, err := repo.CategoryByName(ctx, "C++")
			require.NoError(t, err)
			assert.Equal(t, "c", first.Slug)
			assert.Equal(t, "c-2", second.Slug)

			// Same subcategory slug under different categories.
			web, err := repo.SubcategoryByName(ctx, cpp.CategoryID, "Web")
			require.NoError(t, err)
			assert.Equal(t, "web", web.Slug)

			leaf, err := repo.SubSubcategoryByName(ctx, webDot.SubcategoryID, "Web.")
			require.NoError(t, err)
			assert.Equal(t, "web-2", leaf.Slug)

			// A later run finds the same rows.
			again, err := New(tt.store(repo)).Ensure(ctx, "C++", "Web Dev", "Web.")
			require.NoError(t, err)
			assert.Equal(t, webDot, again)
		})
	}
}
