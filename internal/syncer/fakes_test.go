package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/github"
)

// memRepo is an in-memory awesome.Repository.
type memRepo struct {
	mu  sync.Mutex
	seq int

	categories map[string]awesome.Category
	subs       map[string]awesome.Subcategory
	subsubs    map[string]awesome.SubSubcategory
	resources  []awesome.Resource
	audit      []awesome.AuditEntry
	queue      []awesome.QueueItem
	started    map[string]time.Time
	history    []awesome.HistoryRecord

	// Category names whose insert fails.
	failCategories map[string]bool
}

var _ awesome.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		categories:     map[string]awesome.Category{},
		subs:           map[string]awesome.Subcategory{},
		subsubs:        map[string]awesome.SubSubcategory{},
		started:        map[string]time.Time{},
		failCategories: map[string]bool{},
	}
}

func (m *memRepo) id(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memRepo) CategoryByName(_ context.Context, name string) (awesome.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[name]
	if !ok {
		return awesome.Category{}, awesome.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) InsertCategory(_ context.Context, c awesome.Category) (awesome.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCategories[c.Name] {
		return awesome.Category{}, fmt.Errorf("disk on fire")
	}
	if _, ok := m.categories[c.Name]; ok {
		return awesome.Category{}, awesome.ErrConflict
	}
	c.ID = m.id("cat")
	m.categories[c.Name] = c
	return c, nil
}

func (m *memRepo) SubcategoryByName(_ context.Context, categoryID, name string) (awesome.Subcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[categoryID+"/"+name]
	if !ok {
		return awesome.Subcategory{}, awesome.ErrNotFound
	}
	return s, nil
}

func (m *memRepo) InsertSubcategory(_ context.Context, s awesome.Subcategory) (awesome.Subcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.CategoryID + "/" + s.Name
	if _, ok := m.subs[key]; ok {
		return awesome.Subcategory{}, awesome.ErrConflict
	}
	s.ID = m.id("sub")
	m.subs[key] = s
	return s, nil
}

func (m *memRepo) SubSubcategoryByName(_ context.Context, subcategoryID, name string) (awesome.SubSubcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subsubs[subcategoryID+"/"+name]
	if !ok {
		return awesome.SubSubcategory{}, awesome.ErrNotFound
	}
	return s, nil
}

func (m *memRepo) InsertSubSubcategory(_ context.Context, s awesome.SubSubcategory) (awesome.SubSubcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.SubcategoryID + "/" + s.Name
	if _, ok := m.subsubs[key]; ok {
		return awesome.SubSubcategory{}, awesome.ErrConflict
	}
	s.ID = m.id("subsub")
	m.subsubs[key] = s
	return s, nil
}

func (m *memRepo) ApprovedResources(context.Context) ([]awesome.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []awesome.Resource
	for _, r := range m.resources {
		if r.Status == awesome.ResourceStatusApproved {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) ResourceByURL(_ context.Context, url string) (awesome.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resources {
		if r.URL == url {
			return r, nil
		}
	}
	return awesome.Resource{}, awesome.ErrNotFound
}

func (m *memRepo) InsertResource(_ context.Context, p awesome.ParsedResource, _ awesome.Placement, status awesome.ResourceStatus) (awesome.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resources {
		if r.URL == p.URL {
			return awesome.Resource{}, awesome.ErrConflict
		}
	}
	r := awesome.Resource{ID: m.id("res"), ParsedResource: p, Status: status}
	m.resources = append(m.resources, r)
	return r, nil
}

func (m *memRepo) UpdateResource(_ context.Context, id string, p awesome.ParsedResource, _ awesome.Placement) (awesome.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.resources {
		if r.ID == id {
			m.resources[i].ParsedResource = p
			return m.resources[i], nil
		}
	}
	return awesome.Resource{}, awesome.ErrNotFound
}

func (m *memRepo) InsertAudit(_ context.Context, entry awesome.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *memRepo) InsertQueueItem(_ context.Context, item awesome.QueueItem) (awesome.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.id("q")
	item.CreatedAt = time.Now()
	m.queue = append(m.queue, item)
	return item, nil
}

func (m *memRepo) QueueItem(_ context.Context, id string) (awesome.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.queue {
		if item.ID == id {
			return item, nil
		}
	}
	return awesome.QueueItem{}, awesome.ErrNotFound
}

func (m *memRepo) NextPendingItem(context.Context) (awesome.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.queue {
		if item.Status == awesome.QueueStatusPending {
			return item, nil
		}
	}
	return awesome.QueueItem{}, awesome.ErrNotFound
}

func (m *memRepo) UpdateQueueItem(_ context.Context, id string, args awesome.UpdateQueueItemArgs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.queue {
		if item.ID != id {
			continue
		}
		item.Status = args.Status
		if args.ErrorMessage != "" {
			item.ErrorMessage = args.ErrorMessage
		}
		if args.ResourceIDs != nil {
			item.ResourceIDs = args.ResourceIDs
		}
		if args.Metadata != nil {
			item.Metadata = args.Metadata
		}
		if !args.ProcessedAt.IsZero() {
			t := args.ProcessedAt
			item.ProcessedAt = &t
		}
		if args.Status == awesome.QueueStatusProcessing {
			m.started[id] = time.Now()
		}
		m.queue[i] = item
		return nil
	}
	return awesome.ErrNotFound
}

func (m *memRepo) FailStaleItems(_ context.Context, before time.Time, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for i, item := range m.queue {
		if item.Status == awesome.QueueStatusProcessing && m.started[item.ID].Before(before) {
			m.queue[i].Status = awesome.QueueStatusFailed
			m.queue[i].ErrorMessage = message
			n++
		}
	}
	return n, nil
}

func (m *memRepo) InsertHistory(_ context.Context, rec awesome.HistoryRecord) (awesome.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id("h")
	rec.CreatedAt = time.Now()
	m.history = append(m.history, rec)
	return rec, nil
}

func (m *memRepo) LatestHistory(_ context.Context, repositoryURL string, direction awesome.SyncAction) (awesome.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if h := m.history[i]; h.RepositoryURL == repositoryURL && h.Direction == direction {
			return h, nil
		}
	}
	return awesome.HistoryRecord{}, awesome.ErrNotFound
}

func (m *memRepo) ListHistory(_ context.Context, repositoryURL string, limit, offset int) ([]awesome.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []awesome.HistoryRecord
	for i := len(m.history) - 1; i >= 0; i-- {
		if h := m.history[i]; repositoryURL == "" || h.RepositoryURL == repositoryURL {
			out = append(out, h)
		}
	}
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// fakeRemote is an in-memory GitHub.
type fakeRemote struct {
	mu sync.Mutex

	files         map[string]string
	fetchErr      error
	defaultBranch string
	branchErr     error
	writable      bool
	commitErr     error

	commits []fakeCommit
}

type fakeCommit struct {
	Repo    github.Repo
	Branch  string
	Message string
	Files   []github.File
}

var _ Remote = (*fakeRemote)(nil)

func (f *fakeRemote) FetchFile(_ context.Context, _ github.Repo, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	text, ok := f.files[path]
	if !ok {
		return "", github.ErrNotFound
	}
	return text, nil
}

func (f *fakeRemote) DefaultBranch(context.Context, github.Repo) (string, error) {
	return f.defaultBranch, f.branchErr
}

func (f *fakeRemote) CommitFiles(_ context.Context, repo github.Repo, branch, message string, files []github.File) (github.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return github.Commit{}, f.commitErr
	}
	f.commits = append(f.commits, fakeCommit{Repo: repo, Branch: branch, Message: message, Files: files})
	sha := fmt.Sprintf("sha%d", len(f.commits))
	return github.Commit{SHA: sha, URL: "https://github.com/" + repo.String() + "/commit/" + sha}, nil
}

func (f *fakeRemote) HasWriteAccess(context.Context, github.Repo) (bool, error) {
	return f.writable, nil
}
