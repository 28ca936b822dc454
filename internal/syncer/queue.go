package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jdholdren/awesync/internal/awesome"
	"github.com/jdholdren/awesync/internal/github"
	"github.com/jdholdren/awesync/internal/logger"
)

// Metadata keys on queue items.
const (
	metaPath   = "path"
	metaBranch = "branch"
	metaStrict = "strict"
	metaResult = "result"
)

const staleMessage = "abandoned while processing, marked failed on recovery"

// EnqueueImport records an import to be run by the queue processor. The item
// carries the repository as owner/name.
func (s *Syncer) EnqueueImport(ctx context.Context, req ImportRequest) (awesome.QueueItem, error) {
	repo, err := github.ParseRepo(req.RepositoryURL)
	if err != nil {
		return awesome.QueueItem{}, err
	}

	return s.enqueue(ctx, awesome.QueueItem{
		RepositoryURL: repo.String(),
		Action:        awesome.SyncActionImport,
		Metadata: map[string]any{
			metaPath:   req.Path,
			metaBranch: req.Branch,
			metaStrict: req.Strict,
		},
	})
}

// EnqueueExport records an export to be run by the queue processor.
func (s *Syncer) EnqueueExport(ctx context.Context, req ExportRequest) (awesome.QueueItem, error) {
	repo, err := github.ParseRepo(req.RepositoryURL)
	if err != nil {
		return awesome.QueueItem{}, err
	}

	return s.enqueue(ctx, awesome.QueueItem{
		RepositoryURL: repo.String(),
		Action:        awesome.SyncActionExport,
		Metadata: map[string]any{
			metaBranch: req.Branch,
		},
	})
}

func (s *Syncer) enqueue(ctx context.Context, item awesome.QueueItem) (awesome.QueueItem, error) {
	item.Status = awesome.QueueStatusPending
	item, err := s.repo.InsertQueueItem(ctx, item)
	if err != nil {
		return awesome.QueueItem{}, fmt.Errorf("error inserting queue item: %w", err)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return item, nil
}

// ProcessQueue runs pending items one at a time, oldest first, until none are
// left or ctx is done. It returns how many items it finished.
func (s *Syncer) ProcessQueue(ctx context.Context) (int, error) {
	var processed int
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		item, err := s.repo.NextPendingItem(ctx)
		if errors.Is(err, awesome.ErrNotFound) {
			return processed, nil
		}
		if err != nil {
			return processed, fmt.Errorf("error fetching next queue item: %w", err)
		}

		if err := s.processItem(ctx, item); err != nil {
			return processed, err
		}
		processed++
	}
}

func (s *Syncer) processItem(ctx context.Context, item awesome.QueueItem) error {
	ctx = logger.Ctx(ctx, slog.String("queue_item_id", item.ID))

	err := s.repo.UpdateQueueItem(ctx, item.ID, awesome.UpdateQueueItemArgs{
		Status: awesome.QueueStatusProcessing,
	})
	if err != nil {
		return fmt.Errorf("error claiming queue item %s: %w", item.ID, err)
	}

	metadata := cloneMetadata(item.Metadata)
	var (
		errs        []string
		resourceIDs []string
	)
	switch item.Action {
	case awesome.SyncActionImport:
		res := s.Import(ctx, ImportRequest{
			RepositoryURL: item.RepositoryURL,
			Path:          metaString(metadata, metaPath),
			Branch:        metaString(metadata, metaBranch),
			Strict:        metaBool(metadata, metaStrict),
		})
		metadata[metaResult] = map[string]any{
			"imported":          res.Imported,
			"updated":           res.Updated,
			"skipped":           res.Skipped,
			"warnings":          len(res.Warnings),
			"validation_passed": res.ValidationPassed,
		}
		errs, resourceIDs = res.Errors, res.ResourceIDs
	case awesome.SyncActionExport:
		res := s.Export(ctx, ExportRequest{
			RepositoryURL: item.RepositoryURL,
			Branch:        metaString(metadata, metaBranch),
		})
		metadata[metaResult] = map[string]any{
			"exported":   res.Exported,
			"commit_sha": res.CommitSHA,
			"commit_url": res.CommitURL,
		}
		errs, resourceIDs = res.Errors, res.ResourceIDs
	default:
		errs = []string{fmt.Sprintf("unknown action %q", item.Action)}
	}

	args := awesome.UpdateQueueItemArgs{
		Status:      awesome.QueueStatusCompleted,
		ResourceIDs: resourceIDs,
		Metadata:    metadata,
		ProcessedAt: s.now(),
	}
	if len(errs) > 0 {
		args.Status = awesome.QueueStatusFailed
		args.ErrorMessage = strings.Join(errs, "; ")
	}

	// The item must reach a terminal state even when ctx was cancelled mid-run.
	if err := s.repo.UpdateQueueItem(context.WithoutCancel(ctx), item.ID, args); err != nil {
		return fmt.Errorf("error finishing queue item %s: %w", item.ID, err)
	}
	slog.InfoContext(ctx, "processed queue item", "action", item.Action, "status", args.Status)

	return nil
}

// Run processes the queue until ctx is done, waking every poll interval or
// when work is enqueued.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.poll(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

func (s *Syncer) poll(ctx context.Context) {
	n, err := s.repo.FailStaleItems(ctx, s.now().Add(-s.cfg.StaleAfter), staleMessage)
	if err != nil {
		slog.ErrorContext(ctx, "error failing stale queue items", "err", err)
	} else if n > 0 {
		slog.WarnContext(ctx, "failed stale queue items", "count", n)
	}

	if _, err := s.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "error processing queue", "err", err)
	}
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
