package awesome

import (
	"context"
	"time"
)

type (
	// QueueItem is a durable unit of sync work.
	QueueItem struct {
		ID            string         `json:"id"`
		RepositoryURL string         `json:"repository_url"`
		Action        SyncAction     `json:"action"`
		Status        QueueStatus    `json:"status"`
		ResourceIDs   []string       `json:"resource_ids"`
		Metadata      map[string]any `json:"metadata"`
		ErrorMessage  string         `json:"error_message,omitempty"`
		CreatedAt     time.Time      `json:"created_at"`
		ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	}

	// HistoryRecord is an append-only record of a completed sync. The snapshot
	// is the baseline for the next export's diff.
	HistoryRecord struct {
		ID               string           `json:"id"`
		RepositoryURL    string           `json:"repository_url"`
		Direction        SyncAction       `json:"direction"`
		CommitSHA        string           `json:"commit_sha,omitempty"`
		CommitMessage    string           `json:"commit_message"`
		ResourcesAdded   int              `json:"resources_added"`
		ResourcesUpdated int              `json:"resources_updated"`
		ResourcesRemoved int              `json:"resources_removed"`
		TotalResources   int              `json:"total_resources"`
		Snapshot         []ParsedResource `json:"snapshot,omitempty"`
		CreatedAt        time.Time        `json:"created_at"`
	}

	// DiffCounts compares two resource sets keyed by URL.
	DiffCounts struct {
		Added   int `json:"added"`
		Updated int `json:"updated"`
		Removed int `json:"removed"`
	}

	// Holds the fields that change when a queue item transitions.
	UpdateQueueItemArgs struct {
		Status       QueueStatus
		ErrorMessage string
		// ResourceIDs replaces the stored list when non-nil.
		ResourceIDs []string
		Metadata    map[string]any
		ProcessedAt time.Time
	}

	QueueService interface {
		InsertQueueItem(ctx context.Context, item QueueItem) (QueueItem, error)
		QueueItem(ctx context.Context, id string) (QueueItem, error)
		// NextPendingItem returns the oldest pending item, or ErrNotFound.
		NextPendingItem(ctx context.Context) (QueueItem, error)
		UpdateQueueItem(ctx context.Context, id string, args UpdateQueueItemArgs) error
		// FailStaleItems marks items stuck in processing since before the cutoff as failed.
		FailStaleItems(ctx context.Context, before time.Time, message string) (int, error)
	}

	HistoryService interface {
		InsertHistory(ctx context.Context, rec HistoryRecord) (HistoryRecord, error)
		// LatestHistory returns the newest record for the repository and direction, or ErrNotFound.
		LatestHistory(ctx context.Context, repositoryURL string, direction SyncAction) (HistoryRecord, error)
		ListHistory(ctx context.Context, repositoryURL string, limit, offset int) ([]HistoryRecord, error)
	}

	// Repository is everything the sync engine needs from the catalog store.
	Repository interface {
		ResourceService
		HierarchyService
		QueueService
		HistoryService
	}
)

type SyncAction string

const (
	SyncActionImport SyncAction = "import"
	SyncActionExport SyncAction = "export"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}
