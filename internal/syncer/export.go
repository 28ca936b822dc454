package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/github"
	"github.com/jdholdren/awesync/internal/logger"
	"github.com/jdholdren/awesync/internal/markdown"
	"github.com/jdholdren/awesync/internal/snapshot"
)

const (
	readmePath       = "README.md"
	contributingPath = "CONTRIBUTING.md"
)

type ExportRequest struct {
	RepositoryURL string
	// Branch to commit to. Empty means the repository default.
	Branch string
}

type ExportResult struct {
	Exported  int      `json:"exported"`
	CommitSHA string   `json:"commit_sha,omitempty"`
	CommitURL string   `json:"commit_url,omitempty"`
	Errors    []string `json:"errors"`
	// ResourceIDs are the catalog rows in the commit.
	ResourceIDs []string `json:"resource_ids"`
}

// Export renders the approved catalog and commits it to the repository. A
// history record is written only when the commit lands.
func (s *Syncer) Export(ctx context.Context, req ExportRequest) ExportResult {
	res := ExportResult{Errors: []string{}, ResourceIDs: []string{}}

	repo, err := github.ParseRepo(req.RepositoryURL)
	if err != nil {
		res.Errors = append(res.Errors, describe(err))
		return res
	}

	unlock := s.locks.lock(repo.String())
	defer unlock()

	ctx = logger.Ctx(ctx,
		slog.String("repository_url", req.RepositoryURL),
		slog.String("direction", string(awesome.SyncActionExport)),
	)
	slog.InfoContext(ctx, "starting export", "branch", req.Branch)

	approved, err := s.repo.ApprovedResources(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("error loading catalog: %s", err))
		return res
	}
	current := make([]awesome.ParsedResource, 0, len(approved))
	for _, r := range approved {
		current = append(current, r.ParsedResource)
	}

	format := s.cfg.Format
	if format.RepoURL == "" {
		format.RepoURL = "https://github.com/" + repo.String()
	}
	readme := markdown.Render(current, format)

	// Never publish something the linter rejects.
	if v := markdown.Validate(readme); !v.Valid {
		for _, e := range v.Errors {
			res.Errors = append(res.Errors, e.String())
		}
		slog.ErrorContext(ctx, "rendered list failed validation", "errors", len(v.Errors))
		return res
	}

	canWrite, err := s.remote.HasWriteAccess(ctx, repo)
	if err != nil {
		res.Errors = append(res.Errors, describe(err))
		return res
	}
	if !canWrite {
		res.Errors = append(res.Errors, fmt.Sprintf("no write access to %s", repo))
		return res
	}

	var last []awesome.ParsedResource
	// History is keyed by owner/name so every accepted form of the reference
	// shares one baseline.
	prev, err := s.repo.LatestHistory(ctx, repo.String(), awesome.SyncActionExport)
	switch {
	case errors.Is(err, awesome.ErrNotFound):
	case err != nil:
		res.Errors = append(res.Errors, fmt.Sprintf("error loading sync history: %s", err))
		return res
	default:
		last = prev.Snapshot
	}
	diff := snapshot.Diff(last, current)
	message := snapshot.CommitMessage(diff)

	branch := req.Branch
	if branch == "" {
		if branch, err = s.remote.DefaultBranch(ctx, repo); err != nil {
			slog.ErrorContext(ctx, "error resolving default branch", "err", err)
			res.Errors = append(res.Errors, describe(err))
			return res
		}
	}

	commit, err := s.remote.CommitFiles(ctx, repo, branch, message, []github.File{
		{Path: readmePath, Content: readme},
		{Path: contributingPath, Content: markdown.RenderContributingGuide(format.WebsiteURL, format.RepoURL)},
	})
	if err != nil {
		slog.ErrorContext(ctx, "error committing list", "branch", branch, "err", err)
		res.Errors = append(res.Errors, describe(err))
		return res
	}
	res.Exported = len(current)
	res.CommitSHA = commit.SHA
	res.CommitURL = commit.URL
	for _, r := range approved {
		res.ResourceIDs = append(res.ResourceIDs, r.ID)
	}

	_, err = s.repo.InsertHistory(ctx, awesome.HistoryRecord{
		RepositoryURL:    repo.String(),
		Direction:        awesome.SyncActionExport,
		CommitSHA:        commit.SHA,
		CommitMessage:    message,
		ResourcesAdded:   diff.Added,
		ResourcesUpdated: diff.Updated,
		ResourcesRemoved: diff.Removed,
		TotalResources:   len(current),
		Snapshot:         current,
	})
	if err != nil {
		// The commit is out; the next export diffs against an older baseline.
		slog.ErrorContext(ctx, "error recording sync history", "err", err)
		res.Errors = append(res.Errors, fmt.Sprintf("committed %s but failed to record history: %s", commit.SHA, err))
	}

	slog.InfoContext(ctx, "finished export",
		"exported", res.Exported,
		"commit_sha", commit.SHA,
		"added", diff.Added,
		"updated", diff.Updated,
		"removed", diff.Removed,
	)
	return res
}
