// Package syncer runs the import and export workflows between the catalog and
// a GitHub repository, and drains the durable sync queue.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	goaway "github.com/TwiN/go-away"
	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/github"
	"github.com/jdholdren/awesync/internal/markdown"
)

// Remote is the part of the GitHub client the workflows use.
type Remote interface {
	FetchFile(ctx context.Context, repo github.Repo, path, branch string) (string, error)
	DefaultBranch(ctx context.Context, repo github.Repo) (string, error)
	CommitFiles(ctx context.Context, repo github.Repo, branch, message string, files []github.File) (github.Commit, error)
	HasWriteAccess(ctx context.Context, repo github.Repo) (bool, error)
}

type Config struct {
	// Format describes the README written on export.
	Format markdown.FormatConfig
	// PollInterval is how often Run looks for pending queue items.
	PollInterval time.Duration
	// StaleAfter is how long an item may stay in processing before it is
	// considered abandoned.
	StaleAfter time.Duration
}

type Syncer struct {
	repo   awesome.Repository
	remote Remote
	cfg    Config

	locks keyedMutex
	// Nudges Run when something is enqueued.
	wake chan struct{}
	now  func() time.Time
}

func New(repo awesome.Repository, remote Remote, cfg Config) *Syncer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}

	return &Syncer{
		repo:   repo,
		remote: remote,
		cfg:    cfg,
		locks:  keyedMutex{locks: map[string]*refLock{}},
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

// keyedMutex serializes work per repository.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

var stripPolicy = bluemonday.StrictPolicy()

// clean strips markup from the free-text fields of an imported resource.
func clean(r awesome.ParsedResource) awesome.ParsedResource {
	r.Title = sanitize(r.Title)
	r.Description = sanitize(r.Description)
	return r
}

// The strict policy escapes what it keeps, and the markdown is written back
// out verbatim, so entities are decoded again.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
}

func profanityWarning(r awesome.ParsedResource) string {
	if goaway.IsProfane(r.Title) || goaway.IsProfane(r.Description) {
		return fmt.Sprintf("%s: profanity detected in title or description", r.URL)
	}
	return ""
}

// describe turns a workflow failure into the message stored on results and
// queue items.
func describe(err error) string {
	var branchErr *github.BranchResolutionError
	switch {
	case errors.As(err, &branchErr):
		return branchErr.Error()
	case errors.Is(err, github.ErrInvalidRepository):
		return err.Error()
	case errors.Is(err, github.ErrRateLimited):
		return "GitHub rate limit exceeded, try again after it resets"
	case errors.Is(err, github.ErrNotFound):
		return "repository or file not found, or the token has no access to it"
	case errors.Is(err, github.ErrForbidden):
		return "permission denied by GitHub"
	case errors.Is(err, github.ErrConflict):
		return "conflict: the branch moved during the export, resync required"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "sync was interrupted"
	}
	return err.Error()
}
