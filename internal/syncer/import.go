package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/github"
	"github.com/jdholdren/awesync/internal/hierarchy"
	"github.com/jdholdren/awesync/internal/logger"
	"github.com/jdholdren/awesync/internal/markdown"
	"github.com/jdholdren/awesync/internal/snapshot"
)

const (
	defaultImportPath = "README.md"

	// Validation errors listed on a rejected import.
	rejectionErrorLimit = 5
)

type ImportRequest struct {
	RepositoryURL string
	// Path of the list inside the repository, README.md when empty.
	Path string
	// Branch to read from. Empty means the repository default.
	Branch string
	// Strict also rejects documents that only have warnings.
	Strict bool
}

type ImportResult struct {
	Imported         int                       `json:"imported"`
	Updated          int                       `json:"updated"`
	Skipped          int                       `json:"skipped"`
	Errors           []string                  `json:"errors"`
	Warnings         []string                  `json:"warnings"`
	ValidationPassed bool                      `json:"validation_passed"`
	ValidationErrors []awesome.ValidationError `json:"validation_errors"`
	ValidationStats  awesome.ValidationStats   `json:"validation_stats"`
	// ResourceIDs are the catalog rows created or updated.
	ResourceIDs []string `json:"resource_ids"`
	// Resources are the entries parsed from the document.
	Resources []awesome.ParsedResource `json:"resources,omitempty"`
}

func newImportResult() ImportResult {
	return ImportResult{
		Errors:           []string{},
		Warnings:         []string{},
		ValidationErrors: []awesome.ValidationError{},
		ResourceIDs:      []string{},
	}
}

// Import pulls the list from a repository into the catalog. Failures are
// reported on the result; imports of the same repository never overlap.
func (s *Syncer) Import(ctx context.Context, req ImportRequest) ImportResult {
	res := newImportResult()

	repo, err := github.ParseRepo(req.RepositoryURL)
	if err != nil {
		res.Errors = append(res.Errors, describe(err))
		return res
	}
	path := req.Path
	if path == "" {
		path = defaultImportPath
	}

	unlock := s.locks.lock(repo.String())
	defer unlock()

	ctx = logger.Ctx(ctx,
		slog.String("repository_url", req.RepositoryURL),
		slog.String("direction", string(awesome.SyncActionImport)),
	)
	slog.InfoContext(ctx, "starting import", "path", path, "branch", req.Branch)

	text, err := s.remote.FetchFile(ctx, repo, path, req.Branch)
	if err != nil {
		slog.ErrorContext(ctx, "error fetching list", "err", err)
		res.Errors = append(res.Errors, describe(err))
		return res
	}

	validation := markdown.Validate(text)
	res.ValidationErrors = validation.Errors
	res.ValidationStats = validation.Stats
	if !validation.Acceptable(req.Strict) {
		res.Errors = append(res.Errors, rejection(validation, req.Strict)...)
		slog.WarnContext(ctx, "import rejected by validation",
			"errors", len(validation.Errors),
			"warnings", len(validation.Warnings),
		)
		return res
	}
	res.ValidationPassed = true
	for _, w := range validation.Warnings {
		res.Warnings = append(res.Warnings, w.String())
	}

	doc := markdown.Parse(text)
	res.Resources = doc.Resources

	approved, err := s.repo.ApprovedResources(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("error loading catalog: %s", err))
		return res
	}

	var (
		idx        = snapshot.NewIndex(approved)
		reconciler = hierarchy.New(s.repo)
	)
	for _, parsed := range doc.Resources {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, describe(err))
			break
		}
		s.importResource(ctx, clean(parsed), idx, reconciler, &res)
	}

	slog.InfoContext(ctx, "finished import",
		"imported", res.Imported,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
	)
	return res
}

// importResource applies a single parsed entry. Its failures are recorded and
// never stop the batch.
func (s *Syncer) importResource(
	ctx context.Context,
	parsed awesome.ParsedResource,
	idx snapshot.Index,
	reconciler *hierarchy.Reconciler,
	res *ImportResult,
) {
	if w := profanityWarning(parsed); w != "" {
		res.Warnings = append(res.Warnings, w)
	}

	resolution := snapshot.Resolve(parsed, idx)
	if _, ok := resolution.(snapshot.Skip); ok {
		res.Skipped++
		return
	}

	target := parsed
	if u, ok := resolution.(snapshot.Update); ok {
		target = u.Merged
	}
	placement, err := reconciler.Ensure(ctx, target.Category, target.Subcategory, target.SubSubcategory)
	if err != nil {
		slog.WarnContext(ctx, "error placing resource", "url", parsed.URL, "err", err)
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", parsed.URL, err))
		return
	}

	switch r := resolution.(type) {
	case snapshot.Create:
		created, err := s.repo.InsertResource(ctx, r.Resource, placement, awesome.ResourceStatusApproved)
		if errors.Is(err, awesome.ErrConflict) {
			// Cataloged under another status, so it is not ours to change.
			res.Skipped++
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: already cataloged and not approved", parsed.URL))
			return
		}
		if err != nil {
			slog.WarnContext(ctx, "error inserting resource", "url", parsed.URL, "err", err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: error inserting resource: %s", parsed.URL, err))
			return
		}

		s.audit(ctx, created.ID, awesome.AuditActionCreated, map[string]any{"source": "import"})
		idx.Put(created)
		res.Imported++
		res.touched(created.ID)
	case snapshot.Update:
		updated, err := s.repo.UpdateResource(ctx, r.Existing.ID, r.Merged, placement)
		if err != nil {
			slog.WarnContext(ctx, "error updating resource", "url", parsed.URL, "err", err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: error updating resource: %s", parsed.URL, err))
			return
		}

		s.audit(ctx, updated.ID, awesome.AuditActionUpdated, map[string]any{
			"source": "import",
			"fields": r.Changed,
		})
		idx.Put(updated)
		res.Updated++
		res.touched(updated.ID)
	default:
		panic(fmt.Sprintf("unhandled resolution %T", resolution))
	}
}

// touched records a written row once, however many lines of the document
// resolved to it.
func (res *ImportResult) touched(id string) {
	if !slices.Contains(res.ResourceIDs, id) {
		res.ResourceIDs = append(res.ResourceIDs, id)
	}
}

func (s *Syncer) audit(ctx context.Context, resourceID string, action awesome.AuditAction, changes map[string]any) {
	err := s.repo.InsertAudit(ctx, awesome.AuditEntry{
		ResourceID: resourceID,
		Action:     action,
		Changes:    changes,
	})
	if err != nil {
		// The write already happened.
		slog.WarnContext(ctx, "error writing audit entry", "resource_id", resourceID, "err", err)
	}
}

// rejection summarizes why a document was not imported.
func rejection(v awesome.ValidationResult, strict bool) []string {
	msgs := []string{fmt.Sprintf(
		"validation failed with %d error(s) and %d warning(s)",
		len(v.Errors), len(v.Warnings),
	)}

	listed := v.Errors
	if strict {
		listed = append(append([]awesome.ValidationError{}, v.Errors...), v.Warnings...)
	}
	for i, e := range listed {
		if i == rejectionErrorLimit {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(listed)-rejectionErrorLimit))
			break
		}
		msgs = append(msgs, e.String())
	}
	return msgs
}
