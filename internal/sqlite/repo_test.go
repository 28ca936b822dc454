package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/migrations"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Run(db))
	return New(db)
}

func TestHierarchy(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	cat, err := repo.InsertCategory(ctx, awesome.Category{Name: "Web Frameworks", Slug: "web-frameworks"})
	require.NoError(t, err)
	assert.NotEmpty(t, cat.ID)
	assert.Equal(t, "web-frameworks", cat.Slug)
	assert.False(t, cat.CreatedAt.IsZero())

	_, err = repo.InsertCategory(ctx, awesome.Category{Name: "Web Frameworks", Slug: "web-frameworks"})
	assert.ErrorIs(t, err, awesome.ErrConflict)

	ensured, err := repo.EnsureCategory(ctx, awesome.Category{Name: "Web Frameworks", Slug: "web-frameworks"})
	require.NoError(t, err)
	assert.Equal(t, cat.ID, ensured.ID)

	_, err = repo.CategoryByName(ctx, "Nope")
	assert.ErrorIs(t, err, awesome.ErrNotFound)

	sub, err := repo.EnsureSubcategory(ctx, awesome.Subcategory{Name: "Go", Slug: "go", CategoryID: cat.ID})
	require.NoError(t, err)
	again, err := repo.EnsureSubcategory(ctx, awesome.Subcategory{Name: "Go", Slug: "go", CategoryID: cat.ID})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)

	_, err = repo.InsertSubcategory(ctx, awesome.Subcategory{Name: "Go", Slug: "go", CategoryID: cat.ID})
	assert.ErrorIs(t, err, awesome.ErrConflict)

	leaf, err := repo.InsertSubSubcategory(ctx, awesome.SubSubcategory{Name: "Routers", Slug: "routers", SubcategoryID: sub.ID})
	require.NoError(t, err)
	found, err := repo.SubSubcategoryByName(ctx, sub.ID, "Routers")
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, found.ID)

	// Same name under another parent is fine.
	other, err := repo.EnsureCategory(ctx, awesome.Category{Name: "Databases", Slug: "databases"})
	require.NoError(t, err)
	_, err = repo.InsertSubcategory(ctx, awesome.Subcategory{Name: "Go", Slug: "go", CategoryID: other.ID})
	assert.NoError(t, err)
}

func TestHierarchy_SlugCollision(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	c, err := repo.EnsureCategory(ctx, awesome.Category{Name: "C", Slug: awesome.Slugify("C")})
	require.NoError(t, err)
	cpp, err := repo.EnsureCategory(ctx, awesome.Category{Name: "C++", Slug: awesome.Slugify("C++")})
	require.NoError(t, err)
	csharp, err := repo.InsertCategory(ctx, awesome.Category{Name: "C#", Slug: awesome.Slugify("C#")})
	require.NoError(t, err)

	assert.Equal(t, "c", c.Slug)
	assert.Equal(t, "c-2", cpp.Slug)
	assert.Equal(t, "c-3", csharp.Slug)
	assert.NotEqual(t, c.ID, cpp.ID)

	// Ensuring an existing name keeps its slug.
	again, err := repo.EnsureCategory(ctx, awesome.Category{Name: "C++", Slug: "c"})
	require.NoError(t, err)
	assert.Equal(t, cpp.ID, again.ID)
	assert.Equal(t, "c-2", again.Slug)

	_, err = repo.InsertCategory(ctx, awesome.Category{Name: "C++", Slug: "c"})
	assert.ErrorIs(t, err, awesome.ErrConflict)

	// Scoped to the parent: another category can reuse a slug.
	tests := []struct {
		name     string
		parent   string
		wantSlug string
	}{
		{name: "Go", parent: c.ID, wantSlug: "go"},
		{name: "GO!", parent: c.ID, wantSlug: "go-2"},
		{name: "Go", parent: cpp.ID, wantSlug: "go"},
		{name: "++", parent: cpp.ID, wantSlug: "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := repo.EnsureSubcategory(ctx, awesome.Subcategory{Name: tt.name, Slug: awesome.Slugify(tt.name), CategoryID: tt.parent})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSlug, sub.Slug)
		})
	}

	sub, err := repo.SubcategoryByName(ctx, c.ID, "Go")
	require.NoError(t, err)
	leafA, err := repo.InsertSubSubcategory(ctx, awesome.SubSubcategory{Name: "A.B", Slug: "a-b", SubcategoryID: sub.ID})
	require.NoError(t, err)
	leafB, err := repo.EnsureSubSubcategory(ctx, awesome.SubSubcategory{Name: "A B", Slug: "a-b", SubcategoryID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, "a-b", leafA.Slug)
	assert.Equal(t, "a-b-2", leafB.Slug)
}

func placeIn(t *testing.T, repo Repo, category, subcategory string) awesome.Placement {
	t.Helper()
	ctx := context.Background()

	cat, err := repo.EnsureCategory(ctx, awesome.Category{Name: category, Slug: awesome.Slugify(category)})
	require.NoError(t, err)
	p := awesome.Placement{CategoryID: cat.ID}
	if subcategory == "" {
		return p
	}
	sub, err := repo.EnsureSubcategory(ctx, awesome.Subcategory{Name: subcategory, Slug: awesome.Slugify(subcategory), CategoryID: cat.ID})
	require.NoError(t, err)
	p.SubcategoryID = sub.ID
	return p
}

func TestResources(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tools := placeIn(t, repo, "Tools", "")
	power := placeIn(t, repo, "Tools", "Power")

	hammer := awesome.ParsedResource{Title: "Hammer", URL: "https://hammer.example.com", Description: "Hits things.", Category: "Tools"}
	res, err := repo.InsertResource(ctx, hammer, tools, awesome.ResourceStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, hammer, res.ParsedResource)
	assert.Equal(t, awesome.ResourceStatusApproved, res.Status)

	_, err = repo.InsertResource(ctx, hammer, tools, awesome.ResourceStatusApproved)
	assert.ErrorIs(t, err, awesome.ErrConflict)

	drill := awesome.ParsedResource{Title: "Drill", URL: "https://drill.example.com", Description: "Makes holes.", Category: "Tools", Subcategory: "Power"}
	_, err = repo.InsertResource(ctx, drill, power, awesome.ResourceStatusApproved)
	require.NoError(t, err)

	_, err = repo.InsertResource(ctx, awesome.ParsedResource{Title: "Saw", URL: "https://saw.example.com", Category: "Tools"}, tools, awesome.ResourceStatusPending)
	require.NoError(t, err)

	approved, err := repo.ApprovedResources(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 2)
	assert.Equal(t, hammer, approved[0].ParsedResource)
	assert.Equal(t, drill, approved[1].ParsedResource)

	moved := hammer
	moved.Subcategory = "Power"
	moved.Description = "Hits things, hard."
	updated, err := repo.UpdateResource(ctx, res.ID, moved, power)
	require.NoError(t, err)
	assert.Equal(t, moved, updated.ParsedResource)
	assert.Equal(t, res.ID, updated.ID)

	byURL, err := repo.ResourceByURL(ctx, hammer.URL)
	require.NoError(t, err)
	assert.Equal(t, moved, byURL.ParsedResource)

	_, err = repo.ResourceByURL(ctx, "https://missing.example.com")
	assert.ErrorIs(t, err, awesome.ErrNotFound)

	_, err = repo.UpdateResource(ctx, "missing", moved, power)
	assert.ErrorIs(t, err, awesome.ErrNotFound)
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	res, err := repo.InsertResource(ctx, awesome.ParsedResource{Title: "Hammer", URL: "https://hammer.example.com", Category: "Tools"},
		placeIn(t, repo, "Tools", ""), awesome.ResourceStatusApproved)
	require.NoError(t, err)

	require.NoError(t, repo.InsertAudit(ctx, awesome.AuditEntry{ResourceID: res.ID, Action: awesome.AuditActionCreated}))
	require.NoError(t, repo.InsertAudit(ctx, awesome.AuditEntry{
		ResourceID: res.ID,
		Action:     awesome.AuditActionUpdated,
		Changes:    map[string]any{"fields": []any{"title"}},
	}))

	entries, err := repo.AuditLog(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, awesome.AuditActionCreated, entries[0].Action)
	assert.Empty(t, entries[0].Changes)
	assert.Equal(t, awesome.AuditActionUpdated, entries[1].Action)
	assert.Equal(t, map[string]any{"fields": []any{"title"}}, entries[1].Changes)
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, err := repo.NextPendingItem(ctx)
	assert.ErrorIs(t, err, awesome.ErrNotFound)

	first, err := repo.InsertQueueItem(ctx, awesome.QueueItem{
		RepositoryURL: "https://github.com/acme/awesome-widgets",
		Action:        awesome.SyncActionImport,
		Metadata:      map[string]any{"path": "README.md"},
	})
	require.NoError(t, err)
	assert.Equal(t, awesome.QueueStatusPending, first.Status)
	assert.Equal(t, []string{}, first.ResourceIDs)
	assert.Equal(t, map[string]any{"path": "README.md"}, first.Metadata)
	assert.Nil(t, first.ProcessedAt)

	second, err := repo.InsertQueueItem(ctx, awesome.QueueItem{
		RepositoryURL: "https://github.com/acme/awesome-widgets",
		Action:        awesome.SyncActionExport,
	})
	require.NoError(t, err)

	next, err := repo.NextPendingItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID)

	require.NoError(t, repo.UpdateQueueItem(ctx, first.ID, awesome.UpdateQueueItemArgs{Status: awesome.QueueStatusProcessing}))
	next, err = repo.NextPendingItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)

	done := time.Now()
	require.NoError(t, repo.UpdateQueueItem(ctx, first.ID, awesome.UpdateQueueItemArgs{
		Status:      awesome.QueueStatusCompleted,
		ResourceIDs: []string{"r1", "r2"},
		Metadata:    map[string]any{"imported": float64(3)},
		ProcessedAt: done,
	}))

	got, err := repo.QueueItem(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, awesome.QueueStatusCompleted, got.Status)
	assert.Equal(t, []string{"r1", "r2"}, got.ResourceIDs)
	assert.Equal(t, map[string]any{"imported": float64(3)}, got.Metadata)
	require.NotNil(t, got.ProcessedAt)
	assert.WithinDuration(t, done, *got.ProcessedAt, time.Second)

	assert.ErrorIs(t, repo.UpdateQueueItem(ctx, "missing", awesome.UpdateQueueItemArgs{Status: awesome.QueueStatusFailed}), awesome.ErrNotFound)

	_, err = repo.QueueItem(ctx, "missing")
	assert.ErrorIs(t, err, awesome.ErrNotFound)
}

func TestFailStaleItems(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	item, err := repo.InsertQueueItem(ctx, awesome.QueueItem{RepositoryURL: "acme/list", Action: awesome.SyncActionExport})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateQueueItem(ctx, item.ID, awesome.UpdateQueueItemArgs{Status: awesome.QueueStatusProcessing}))

	pending, err := repo.InsertQueueItem(ctx, awesome.QueueItem{RepositoryURL: "acme/list", Action: awesome.SyncActionImport})
	require.NoError(t, err)

	// Nothing started before an hour ago.
	n, err := repo.FailStaleItems(ctx, time.Now().Add(-time.Hour), "stale")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = repo.FailStaleItems(ctx, time.Now().Add(time.Minute), "stale")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.QueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, awesome.QueueStatusFailed, got.Status)
	assert.Equal(t, "stale", got.ErrorMessage)
	assert.NotNil(t, got.ProcessedAt)

	got, err = repo.QueueItem(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, awesome.QueueStatusPending, got.Status)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	const repoURL = "https://github.com/acme/awesome-widgets"

	_, err := repo.LatestHistory(ctx, repoURL, awesome.SyncActionExport)
	assert.ErrorIs(t, err, awesome.ErrNotFound)

	snap := []awesome.ParsedResource{{Title: "Hammer", URL: "https://hammer.example.com", Category: "Tools"}}
	for i, sha := range []string{"aaa", "bbb"} {
		_, err := repo.InsertHistory(ctx, awesome.HistoryRecord{
			RepositoryURL:  repoURL,
			Direction:      awesome.SyncActionExport,
			CommitSHA:      sha,
			CommitMessage:  "Added 1 resource, updated 0, removed 0",
			ResourcesAdded: 1,
			TotalResources: i + 1,
			Snapshot:       snap,
		})
		require.NoError(t, err)
	}
	_, err = repo.InsertHistory(ctx, awesome.HistoryRecord{RepositoryURL: "acme/other", Direction: awesome.SyncActionImport})
	require.NoError(t, err)

	latest, err := repo.LatestHistory(ctx, repoURL, awesome.SyncActionExport)
	require.NoError(t, err)
	assert.Equal(t, "bbb", latest.CommitSHA)
	assert.Equal(t, snap, latest.Snapshot)

	_, err = repo.LatestHistory(ctx, repoURL, awesome.SyncActionImport)
	assert.ErrorIs(t, err, awesome.ErrNotFound)

	list, err := repo.ListHistory(ctx, repoURL, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bbb", list[0].CommitSHA)
	assert.Nil(t, list[0].Snapshot)

	all, err := repo.ListHistory(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := repo.ListHistory(ctx, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bbb", page[0].CommitSHA)
}
