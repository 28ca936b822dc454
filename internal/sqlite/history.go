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

const (
	historyNamespace    = "-hist"
	defaultHistoryLimit = 20
)

type historyRow struct {
	ID               string             `db:"id"`
	RepositoryURL    string             `db:"repository_url"`
	Direction        awesome.SyncAction `db:"direction"`
	CommitSHA        string             `db:"commit_sha"`
	CommitMessage    string             `db:"commit_message"`
	ResourcesAdded   int                `db:"resources_added"`
	ResourcesUpdated int                `db:"resources_updated"`
	ResourcesRemoved int                `db:"resources_removed"`
	TotalResources   int                `db:"total_resources"`
	Snapshot         string             `db:"snapshot"`
	CreatedAt        time.Time          `db:"created_at"`
}

func (row historyRow) record(withSnapshot bool) (awesome.HistoryRecord, error) {
	rec := awesome.HistoryRecord{
		ID:               row.ID,
		RepositoryURL:    row.RepositoryURL,
		Direction:        row.Direction,
		CommitSHA:        row.CommitSHA,
		CommitMessage:    row.CommitMessage,
		ResourcesAdded:   row.ResourcesAdded,
		ResourcesUpdated: row.ResourcesUpdated,
		ResourcesRemoved: row.ResourcesRemoved,
		TotalResources:   row.TotalResources,
		CreatedAt:        row.CreatedAt,
	}
	if !withSnapshot {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(row.Snapshot), &rec.Snapshot); err != nil {
		return awesome.HistoryRecord{}, fmt.Errorf("error decoding snapshot: %w", err)
	}

	return rec, nil
}

func (r Repo) InsertHistory(ctx context.Context, rec awesome.HistoryRecord) (awesome.HistoryRecord, error) {
	const q = `INSERT INTO sync_history (
		id, repository_url, direction, commit_sha, commit_message,
		resources_added, resources_updated, resources_removed, total_resources, snapshot
	) VALUES (
		:id, :repository_url, :direction, :commit_sha, :commit_message,
		:resources_added, :resources_updated, :resources_removed, :total_resources, :snapshot
	);`

	snap := rec.Snapshot
	if snap == nil {
		snap = []awesome.ParsedResource{}
	}
	snapText, err := jsonText(snap)
	if err != nil {
		return awesome.HistoryRecord{}, err
	}

	row := historyRow{
		ID:               newID(historyNamespace),
		RepositoryURL:    rec.RepositoryURL,
		Direction:        rec.Direction,
		CommitSHA:        rec.CommitSHA,
		CommitMessage:    rec.CommitMessage,
		ResourcesAdded:   rec.ResourcesAdded,
		ResourcesUpdated: rec.ResourcesUpdated,
		ResourcesRemoved: rec.ResourcesRemoved,
		TotalResources:   rec.TotalResources,
		Snapshot:         snapText,
	}
	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return awesome.HistoryRecord{}, fmt.Errorf("error inserting history: %w", err)
	}

	var stored historyRow
	if err := r.db.GetContext(ctx, &stored, `SELECT * FROM sync_history WHERE id = ?;`, row.ID); err != nil {
		return awesome.HistoryRecord{}, fmt.Errorf("error fetching history: %w", err)
	}
	return stored.record(true)
}

func (r Repo) LatestHistory(ctx context.Context, repositoryURL string, direction awesome.SyncAction) (awesome.HistoryRecord, error) {
	const q = `SELECT * FROM sync_history
	WHERE repository_url = ? AND direction = ?
	ORDER BY created_at DESC, rowid DESC LIMIT 1;`

	var row historyRow
	err := r.db.GetContext(ctx, &row, q, repositoryURL, direction)
	if errors.Is(err, sql.ErrNoRows) {
		return awesome.HistoryRecord{}, awesome.ErrNotFound
	}
	if err != nil {
		return awesome.HistoryRecord{}, fmt.Errorf("error fetching latest history: %w", err)
	}

	return row.record(true)
}

// ListHistory pages through history newest first. Snapshots are not loaded.
// An empty repositoryURL lists every repository.
func (r Repo) ListHistory(ctx context.Context, repositoryURL string, limit, offset int) ([]awesome.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	offset = max(offset, 0)

	q := sq.Select(
		"id", "repository_url", "direction", "commit_sha", "commit_message",
		"resources_added", "resources_updated", "resources_removed", "total_resources",
		"'[]' AS snapshot", "created_at",
	).From("sync_history")
	if repositoryURL != "" {
		q = q.Where(sq.Eq{"repository_url": repositoryURL})
	}
	q = q.OrderBy("created_at DESC", "rowid DESC").Limit(uint64(limit)).Offset(uint64(offset))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting history: %w", err)
	}

	records := make([]awesome.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record(false)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}
