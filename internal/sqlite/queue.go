package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/awesync/internal/awesome"
)

const queueNamespace = "-q"

type queueRow struct {
	ID            string              `db:"id"`
	RepositoryURL string              `db:"repository_url"`
	Action        awesome.SyncAction  `db:"action"`
	Status        awesome.QueueStatus `db:"status"`
	ResourceIDs   string              `db:"resource_ids"`
	Metadata      string              `db:"metadata"`
	ErrorMessage  string              `db:"error_message"`
	CreatedAt     time.Time           `db:"created_at"`
	StartedAt     sql.NullTime        `db:"started_at"`
	ProcessedAt   sql.NullTime        `db:"processed_at"`
}

func (row queueRow) item() (awesome.QueueItem, error) {
	item := awesome.QueueItem{
		ID:            row.ID,
		RepositoryURL: row.RepositoryURL,
		Action:        row.Action,
		Status:        row.Status,
		ErrorMessage:  row.ErrorMessage,
		CreatedAt:     row.CreatedAt,
	}
	if row.ProcessedAt.Valid {
		t := row.ProcessedAt.Time
		item.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(row.ResourceIDs), &item.ResourceIDs); err != nil {
		return awesome.QueueItem{}, fmt.Errorf("error decoding resource ids: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Metadata), &item.Metadata); err != nil {
		return awesome.QueueItem{}, fmt.Errorf("error decoding metadata: %w", err)
	}

	return item, nil
}

func (r Repo) InsertQueueItem(ctx context.Context, item awesome.QueueItem) (awesome.QueueItem, error) {
	const q = `INSERT INTO sync_queue (id, repository_url, action, status, resource_ids, metadata)
	VALUES (:id, :repository_url, :action, :status, :resource_ids, :metadata);`

	ids := item.ResourceIDs
	if ids == nil {
		ids = []string{}
	}
	idsText, err := jsonText(ids)
	if err != nil {
		return awesome.QueueItem{}, err
	}
	meta := item.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaText, err := jsonText(meta)
	if err != nil {
		return awesome.QueueItem{}, err
	}

	status := item.Status
	if status == "" {
		status = awesome.QueueStatusPending
	}

	row := queueRow{
		ID:            newID(queueNamespace),
		RepositoryURL: item.RepositoryURL,
		Action:        item.Action,
		Status:        status,
		ResourceIDs:   idsText,
		Metadata:      metaText,
	}
	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return awesome.QueueItem{}, fmt.Errorf("error inserting queue item: %w", err)
	}

	return r.QueueItem(ctx, row.ID)
}

func (r Repo) QueueItem(ctx context.Context, id string) (awesome.QueueItem, error) {
	const q = `SELECT * FROM sync_queue WHERE id = ?;`

	var row queueRow
	err := r.db.GetContext(ctx, &row, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return awesome.QueueItem{}, awesome.ErrNotFound
	}
	if err != nil {
		return awesome.QueueItem{}, fmt.Errorf("error fetching queue item: %w", err)
	}

	return row.item()
}

func (r Repo) NextPendingItem(ctx context.Context) (awesome.QueueItem, error) {
	const q = `SELECT * FROM sync_queue WHERE status = ? ORDER BY created_at, rowid LIMIT 1;`

	var row queueRow
	err := r.db.GetContext(ctx, &row, q, awesome.QueueStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return awesome.QueueItem{}, awesome.ErrNotFound
	}
	if err != nil {
		return awesome.QueueItem{}, fmt.Errorf("error fetching next queue item: %w", err)
	}

	return row.item()
}

// UpdateQueueItem applies the non-zero fields of args. Moving an item to
// processing also stamps when it started, which is what stale detection uses.
func (r Repo) UpdateQueueItem(ctx context.Context, id string, args awesome.UpdateQueueItemArgs) error {
	q := sq.Update("sync_queue")
	if args.Status != "" {
		q = q.Set("status", args.Status)
		if args.Status == awesome.QueueStatusProcessing {
			q = q.Set("started_at", timestamp(time.Now()))
		}
	}
	if args.ErrorMessage != "" {
		q = q.Set("error_message", args.ErrorMessage)
	}
	if args.ResourceIDs != nil {
		text, err := jsonText(args.ResourceIDs)
		if err != nil {
			return err
		}
		q = q.Set("resource_ids", text)
	}
	if args.Metadata != nil {
		text, err := jsonText(args.Metadata)
		if err != nil {
			return err
		}
		q = q.Set("metadata", text)
	}
	if !args.ProcessedAt.IsZero() {
		q = q.Set("processed_at", timestamp(args.ProcessedAt))
	}
	q = q.Where(sq.Eq{"id": id})

	query, qArgs, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, qArgs...)
	if err != nil {
		return fmt.Errorf("error updating queue item: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return awesome.ErrNotFound
	}

	return nil
}

// FailStaleItems fails items that entered processing before the cutoff and
// never finished.
func (r Repo) FailStaleItems(ctx context.Context, before time.Time, message string) (int, error) {
	const q = `UPDATE sync_queue SET status = ?, error_message = ?, processed_at = ?
	WHERE status = ? AND julianday(started_at) < julianday(?);`

	result, err := r.db.ExecContext(ctx, q,
		awesome.QueueStatusFailed,
		message,
		timestamp(time.Now()),
		awesome.QueueStatusProcessing,
		timestamp(before),
	)
	if err != nil {
		return 0, fmt.Errorf("error failing stale queue items: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting failed queue items: %w", err)
	}

	return int(n), nil
}
