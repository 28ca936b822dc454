package hierarchy

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/awesync/internal/awesome"
)

// memStore is a HierarchyService backed by maps. Rows are keyed by parent id
// and name.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]string
	nextID  int
	lookups int

	// raceOnInsert makes the next insert lose a race: a concurrent writer's
	// row is stored and ErrConflict is returned.
	raceOnInsert bool
	// vanish makes a conflicting insert leave nothing behind.
	vanish bool
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]string{}}
}

func (m *memStore) get(parent, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++
	id, ok := m.rows[parent+"/"+name]
	if !ok {
		return "", awesome.ErrNotFound
	}
	return id, nil
}

func (m *memStore) put(parent, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := parent + "/" + name
	if m.raceOnInsert {
		m.raceOnInsert = false
		if !m.vanish {
			m.nextID++
			m.rows[key] = fmt.Sprintf("winner-%d", m.nextID)
		}
		return "", awesome.ErrConflict
	}
	if _, ok := m.rows[key]; ok {
		return "", awesome.ErrConflict
	}
	m.nextID++
	id := fmt.Sprintf("row-%d", m.nextID)
	m.rows[key] = id
	return id, nil
}

func (m *memStore) CategoryByName(_ context.Context, name string) (awesome.Category, error) {
	id, err := m.get("", name)
	return awesome.Category{ID: id, Name: name}, err
}

func (m *memStore) InsertCategory(_ context.Context, c awesome.Category) (awesome.Category, error) {
	id, err := m.put("", c.Name)
	c.ID = id
	return c, err
}

func (m *memStore) SubcategoryByName(_ context.Context, categoryID, name string) (awesome.Subcategory, error) {
	id, err := m.get(categoryID, name)
	return awesome.Subcategory{ID: id, Name: name, CategoryID: categoryID}, err
}

func (m *memStore) InsertSubcategory(_ context.Context, s awesome.Subcategory) (awesome.Subcategory, error) {
	id, err := m.put(s.CategoryID, s.Name)
	s.ID = id
	return s, err
}

func (m *memStore) SubSubcategoryByName(_ context.Context, subcategoryID, name string) (awesome.SubSubcategory, error) {
	id, err := m.get(subcategoryID, name)
	return awesome.SubSubcategory{ID: id, Name: name, SubcategoryID: subcategoryID}, err
}

func (m *memStore) InsertSubSubcategory(_ context.Context, s awesome.SubSubcategory) (awesome.SubSubcategory, error) {
	id, err := m.put(s.SubcategoryID, s.Name)
	s.ID = id
	return s, err
}

// upsertStore adds the atomic insert-or-get path on top of memStore.
type upsertStore struct {
	*memStore
	upserts int
}

func (u *upsertStore) ensure(parent, name string) (string, error) {
	u.upserts++
	if id, err := u.get(parent, name); err == nil {
		return id, nil
	}
	return u.put(parent, name)
}

func (u *upsertStore) EnsureCategory(_ context.Context, c awesome.Category) (awesome.Category, error) {
	id, err := u.ensure("", c.Name)
	c.ID = id
	return c, err
}

func (u *upsertStore) EnsureSubcategory(_ context.Context, s awesome.Subcategory) (awesome.Subcategory, error) {
	id, err := u.ensure(s.CategoryID, s.Name)
	s.ID = id
	return s, err
}

func (u *upsertStore) EnsureSubSubcategory(_ context.Context, s awesome.SubSubcategory) (awesome.SubSubcategory, error) {
	id, err := u.ensure(s.SubcategoryID, s.Name)
	s.ID = id
	return s, err
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := New(store)

	ids, err := r.Ensure(ctx, "Tools", "Power", "Cordless")
	require.NoError(t, err)
	assert.Equal(t, awesome.Placement{CategoryID: "row-1", SubcategoryID: "row-2", SubSubcategoryID: "row-3"}, ids)

	again, err := r.Ensure(ctx, "Tools", "Power", "")
	require.NoError(t, err)
	assert.Equal(t, awesome.Placement{CategoryID: "row-1", SubcategoryID: "row-2"}, again)

	// Same names under another parent are different rows.
	other, err := r.Ensure(ctx, "Supplies", "Power", "")
	require.NoError(t, err)
	assert.NotEqual(t, ids.SubcategoryID, other.SubcategoryID)
}

func TestEnsure_Cached(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := New(store)

	_, err := r.Ensure(ctx, "Tools", "Power", "Cordless")
	require.NoError(t, err)
	lookups := store.lookups

	_, err = r.Ensure(ctx, "Tools", "Power", "Cordless")
	require.NoError(t, err)
	assert.Equal(t, lookups, store.lookups)

	// A fresh reconciler finds the existing rows instead of creating them.
	ids, err := New(store).Ensure(ctx, "Tools", "Power", "Cordless")
	require.NoError(t, err)
	assert.Equal(t, "row-3", ids.SubSubcategoryID)
}

func TestEnsure_LostRace(t *testing.T) {
	store := newMemStore()
	store.raceOnInsert = true

	ids, err := New(store).Ensure(context.Background(), "Tools", "", "")
	require.NoError(t, err)
	assert.Equal(t, "winner-1", ids.CategoryID)
}

func TestEnsure_RefetchMiss(t *testing.T) {
	store := newMemStore()
	_, err := New(store).Ensure(context.Background(), "Tools", "", "")
	require.NoError(t, err)

	store.raceOnInsert, store.vanish = true, true
	_, err = New(store).Ensure(context.Background(), "Tools", "Power", "")

	var levelErr *LevelError
	require.ErrorAs(t, err, &levelErr)
	assert.Equal(t, LevelSubcategory, levelErr.Level)
	assert.Equal(t, "Power", levelErr.Name)
	assert.ErrorIs(t, err, awesome.ErrNotFound)
}

func TestEnsure_EmptyCategory(t *testing.T) {
	_, err := New(newMemStore()).Ensure(context.Background(), "", "Power", "")

	var levelErr *LevelError
	require.ErrorAs(t, err, &levelErr)
	assert.Equal(t, LevelCategory, levelErr.Level)
}

func TestEnsure_Upserter(t *testing.T) {
	ctx := context.Background()
	store := &upsertStore{memStore: newMemStore()}
	r := New(store)

	ids, err := r.Ensure(ctx, "Tools", "Power", "Cordless")
	require.NoError(t, err)
	assert.Equal(t, 3, store.upserts)
	assert.NotEmpty(t, ids.SubSubcategoryID)

	_, err = r.Ensure(ctx, "Tools", "Power", "Cordless")
	require.NoError(t, err)
	assert.Equal(t, 3, store.upserts)
}

func TestEnsure_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	var (
		wg  sync.WaitGroup
		got = make([]awesome.Placement, 8)
	)
	for i := range got {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := New(store).Ensure(ctx, "Tools", "Power", "")
			assert.NoError(t, err)
			got[i] = ids
		}()
	}
	wg.Wait()

	for _, ids := range got {
		assert.Equal(t, got[0], ids)
	}
}
