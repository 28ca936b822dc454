// Package awesome holds the domain types for the awesome-list catalog and the
// interfaces the sync engine needs from its store.
package awesome

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// ParsedResource is a single list entry. URL is the natural key used for
	// every identity comparison.
	ParsedResource struct {
		Title          string `db:"title" json:"title" yaml:"title"`
		URL            string `db:"url" json:"url" yaml:"url"`
		Description    string `db:"description" json:"description" yaml:"description"`
		Category       string `db:"category" json:"category" yaml:"category"`
		Subcategory    string `db:"subcategory" json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
		SubSubcategory string `db:"sub_subcategory" json:"sub_subcategory,omitempty" yaml:"sub_subcategory,omitempty"`
	}

	// Badge is a nested image link found near the top of a document.
	Badge struct {
		Alt      string `json:"alt"`
		ImageURL string `json:"image_url"`
		LinkURL  string `json:"link_url"`
	}

	DocumentMetadata struct {
		License      string   `json:"license,omitempty"`
		Contributors []string `json:"contributors,omitempty"`
	}

	// ParsedDocument is the result of a single parse. It is not mutated afterwards.
	ParsedDocument struct {
		Title       string           `json:"title"`
		Description string           `json:"description"`
		Badges      []Badge          `json:"badges"`
		Resources   []ParsedResource `json:"resources"`
		Metadata    DocumentMetadata `json:"metadata"`
	}

	// Resource is a catalog row.
	Resource struct {
		ID string `db:"id" json:"id"`
		ParsedResource
		Status    ResourceStatus `db:"status" json:"status"`
		CreatedAt time.Time      `db:"created_at" json:"created_at"`
		UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
	}

	// AuditEntry records a single change made to a resource.
	AuditEntry struct {
		ID         string         `json:"id"`
		ResourceID string         `json:"resource_id"`
		Action     AuditAction    `json:"action"`
		Changes    map[string]any `json:"changes,omitempty"`
		CreatedAt  time.Time      `json:"created_at"`
	}

	ResourceService interface {
		// ApprovedResources lists approved resources in catalog order.
		ApprovedResources(ctx context.Context) ([]Resource, error)
		ResourceByURL(ctx context.Context, url string) (Resource, error)
		// InsertResource returns ErrConflict when the URL is already cataloged.
		InsertResource(ctx context.Context, r ParsedResource, p Placement, status ResourceStatus) (Resource, error)
		UpdateResource(ctx context.Context, id string, r ParsedResource, p Placement) (Resource, error)
		InsertAudit(ctx context.Context, entry AuditEntry) error
	}
)

type ResourceStatus string

const (
	ResourceStatusPending  ResourceStatus = "pending"
	ResourceStatusApproved ResourceStatus = "approved"
	ResourceStatusRejected ResourceStatus = "rejected"
)

type AuditAction string

const (
	AuditActionCreated AuditAction = "created"
	AuditActionUpdated AuditAction = "updated"
)

// SameContent reports whether two resources agree on every compared field.
// The URL is the key and is not compared.
func (p ParsedResource) SameContent(o ParsedResource) bool {
	return p.Title == o.Title &&
		p.Description == o.Description &&
		p.Category == o.Category &&
		p.Subcategory == o.Subcategory &&
		p.SubSubcategory == o.SubSubcategory
}

// ChangedFields lists the compared fields that differ between p and o.
func (p ParsedResource) ChangedFields(o ParsedResource) []string {
	var changed []string
	if p.Title != o.Title {
		changed = append(changed, "title")
	}
	if p.Description != o.Description {
		changed = append(changed, "description")
	}
	if p.Category != o.Category {
		changed = append(changed, "category")
	}
	if p.Subcategory != o.Subcategory {
		changed = append(changed, "subcategory")
	}
	if p.SubSubcategory != o.SubSubcategory {
		changed = append(changed, "sub_subcategory")
	}
	return changed
}
