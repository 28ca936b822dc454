// Package v1 is version 1 of the sync admin API.
package v1

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jdholdren/awesync/api"
)

type CreateImportRequest struct {
	RepositoryURL string `json:"repository_url"`
	Path          string `json:"path,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Strict        bool   `json:"strict,omitempty"`
}

// Validate checks the shape of the request. Whether the repository exists is
// only known once the import runs.
//
// Returns an api.Error if the request is invalid.
func (r CreateImportRequest) Validate() error {
	var errs []api.ErrorDetail
	errs = append(errs, validateRepositoryURL(r.RepositoryURL)...)
	if r.Path != "" && (strings.HasPrefix(r.Path, "/") || path.Clean(r.Path) != r.Path || strings.HasPrefix(r.Path, "..")) {
		errs = append(errs, api.ErrorDetail{
			Field: "path",
			Error: "path must be relative to the repository root",
		})
	}
	errs = append(errs, validateBranch(r.Branch)...)

	return api.Invalid(errs)
}

type CreateExportRequest struct {
	RepositoryURL string `json:"repository_url"`
	Branch        string `json:"branch,omitempty"`
}

// Validate checks the shape of the request.
//
// Returns an api.Error if the request is invalid.
func (r CreateExportRequest) Validate() error {
	var errs []api.ErrorDetail
	errs = append(errs, validateRepositoryURL(r.RepositoryURL)...)
	errs = append(errs, validateBranch(r.Branch)...)

	return api.Invalid(errs)
}

func validateRepositoryURL(raw string) []api.ErrorDetail {
	if strings.TrimSpace(raw) == "" {
		return []api.ErrorDetail{{Field: "repository_url", Error: "repository_url is required"}}
	}
	if u, err := url.Parse(raw); err != nil || (u.Scheme != "" && u.Scheme != "https" && u.Scheme != "http") {
		return []api.ErrorDetail{{Field: "repository_url", Error: "repository_url must be an http(s) URL or owner/repo"}}
	}
	return nil
}

func validateBranch(branch string) []api.ErrorDetail {
	if strings.ContainsAny(branch, " ~^:?*[\\") || strings.Contains(branch, "..") {
		return []api.ErrorDetail{{Field: "branch", Error: "branch is not a valid ref name"}}
	}
	return nil
}

// QueueItem is a queued sync as seen by API clients.
type QueueItem struct {
	ID            string         `json:"id"`
	RepositoryURL string         `json:"repository_url"`
	Action        string         `json:"action"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
}

type HistoryRecord struct {
	ID               string    `json:"id"`
	RepositoryURL    string    `json:"repository_url"`
	Direction        string    `json:"direction"`
	CommitSHA        string    `json:"commit_sha,omitempty"`
	CommitMessage    string    `json:"commit_message"`
	ResourcesAdded   int       `json:"resources_added"`
	ResourcesUpdated int       `json:"resources_updated"`
	ResourcesRemoved int       `json:"resources_removed"`
	TotalResources   int       `json:"total_resources"`
	CreatedAt        time.Time `json:"created_at"`
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ListHistoryResponse struct {
	History    []HistoryRecord `json:"history"`
	Pagination Pagination      `json:"pagination"`
}

type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Reset     time.Time `json:"reset"`
}
