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
	resourceNamespace = "-res"
	auditNamespace    = "-aud"
)

// Resources are read with their taxonomy names joined in.
var resourceSelect = sq.Select(
	"r.id",
	"r.url",
	"r.title",
	"r.description",
	"r.status",
	"r.created_at",
	"r.updated_at",
	"COALESCE(c.name, '') AS category",
	"COALESCE(s.name, '') AS subcategory",
	"COALESCE(ss.name, '') AS sub_subcategory",
).
	From("resources r").
	LeftJoin("categories c ON c.id = r.category_id").
	LeftJoin("subcategories s ON s.id = r.subcategory_id").
	LeftJoin("sub_subcategories ss ON ss.id = r.sub_subcategory_id")

func (r Repo) resource(ctx context.Context, where sq.Eq) (awesome.Resource, error) {
	query, args, err := resourceSelect.Where(where).ToSql()
	if err != nil {
		return awesome.Resource{}, fmt.Errorf("error constructing sql: %w", err)
	}

	var res awesome.Resource
	err = r.db.GetContext(ctx, &res, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return awesome.Resource{}, awesome.ErrNotFound
	}
	if err != nil {
		return awesome.Resource{}, fmt.Errorf("error fetching resource: %w", err)
	}

	return res, nil
}

func (r Repo) Resource(ctx context.Context, id string) (awesome.Resource, error) {
	return r.resource(ctx, sq.Eq{"r.id": id})
}

func (r Repo) ResourceByURL(ctx context.Context, url string) (awesome.Resource, error) {
	return r.resource(ctx, sq.Eq{"r.url": url})
}

// ApprovedResources lists approved resources oldest first, which is the order
// they are rendered in.
func (r Repo) ApprovedResources(ctx context.Context) ([]awesome.Resource, error) {
	query, args, err := resourceSelect.
		Where(sq.Eq{"r.status": awesome.ResourceStatusApproved}).
		OrderBy("r.created_at", "r.rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	resources := []awesome.Resource{}
	if err := r.db.SelectContext(ctx, &resources, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting approved resources: %w", err)
	}

	return resources, nil
}

type resourceRow struct {
	ID               string                 `db:"id"`
	URL              string                 `db:"url"`
	Title            string                 `db:"title"`
	Description      string                 `db:"description"`
	CategoryID       sql.NullString         `db:"category_id"`
	SubcategoryID    sql.NullString         `db:"subcategory_id"`
	SubSubcategoryID sql.NullString         `db:"sub_subcategory_id"`
	Status           awesome.ResourceStatus `db:"status"`
	UpdatedAt        string                 `db:"updated_at"`
}

func newResourceRow(id string, res awesome.ParsedResource, p awesome.Placement, status awesome.ResourceStatus) resourceRow {
	return resourceRow{
		ID:               id,
		URL:              res.URL,
		Title:            res.Title,
		Description:      res.Description,
		CategoryID:       nullString(p.CategoryID),
		SubcategoryID:    nullString(p.SubcategoryID),
		SubSubcategoryID: nullString(p.SubSubcategoryID),
		Status:           status,
		UpdatedAt:        timestamp(time.Now()),
	}
}

func (r Repo) InsertResource(ctx context.Context, res awesome.ParsedResource, p awesome.Placement, status awesome.ResourceStatus) (awesome.Resource, error) {
	const q = `INSERT INTO resources (id, url, title, description, category_id, subcategory_id, sub_subcategory_id, status)
	VALUES (:id, :url, :title, :description, :category_id, :subcategory_id, :sub_subcategory_id, :status);`

	row := newResourceRow(newID(resourceNamespace), res, p, status)
	_, err := r.db.NamedExecContext(ctx, q, row)
	if isUniqueViolation(err) {
		return awesome.Resource{}, fmt.Errorf("resource %s already exists: %w", res.URL, awesome.ErrConflict)
	}
	if err != nil {
		return awesome.Resource{}, fmt.Errorf("error inserting resource: %w", err)
	}

	return r.Resource(ctx, row.ID)
}

// UpdateResource replaces the content and placement of a resource. The URL
// and status are left alone.
func (r Repo) UpdateResource(ctx context.Context, id string, res awesome.ParsedResource, p awesome.Placement) (awesome.Resource, error) {
	const q = `UPDATE resources SET
		title = :title,
		description = :description,
		category_id = :category_id,
		subcategory_id = :subcategory_id,
		sub_subcategory_id = :sub_subcategory_id,
		updated_at = :updated_at
	WHERE id = :id;`

	row := newResourceRow(id, res, p, "")
	result, err := r.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return awesome.Resource{}, fmt.Errorf("error updating resource: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return awesome.Resource{}, awesome.ErrNotFound
	}

	return r.Resource(ctx, id)
}

// SetResourceStatus moves a resource through moderation.
func (r Repo) SetResourceStatus(ctx context.Context, id string, status awesome.ResourceStatus) error {
	const q = `UPDATE resources SET status = ?, updated_at = ? WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, status, timestamp(time.Now()), id); err != nil {
		return fmt.Errorf("error updating resource status: %w", err)
	}

	return nil
}

func (r Repo) InsertAudit(ctx context.Context, entry awesome.AuditEntry) error {
	const q = `INSERT INTO audit_log (id, resource_id, action, changes) VALUES (?, ?, ?, ?);`

	changes := entry.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	text, err := jsonText(changes)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, q, newID(auditNamespace), entry.ResourceID, entry.Action, text); err != nil {
		return fmt.Errorf("error inserting audit entry: %w", err)
	}

	return nil
}

// AuditLog lists the changes made to a resource, oldest first.
func (r Repo) AuditLog(ctx context.Context, resourceID string) ([]awesome.AuditEntry, error) {
	const q = `SELECT id, resource_id, action, changes, created_at FROM audit_log
	WHERE resource_id = ? ORDER BY created_at, rowid;`

	var rows []struct {
		ID         string              `db:"id"`
		ResourceID string              `db:"resource_id"`
		Action     awesome.AuditAction `db:"action"`
		Changes    string              `db:"changes"`
		CreatedAt  time.Time           `db:"created_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, q, resourceID); err != nil {
		return nil, fmt.Errorf("error selecting audit log: %w", err)
	}

	entries := make([]awesome.AuditEntry, 0, len(rows))
	for _, row := range rows {
		e := awesome.AuditEntry{
			ID:         row.ID,
			ResourceID: row.ResourceID,
			Action:     row.Action,
			CreatedAt:  row.CreatedAt,
		}
		if err := json.Unmarshal([]byte(row.Changes), &e.Changes); err != nil {
			return nil, fmt.Errorf("error decoding audit changes: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
