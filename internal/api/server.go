// Package api is the admin HTTP API: document validation, queueing syncs and
// reading their outcome.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	wireapi "github.com/jdholdren/awesync/api"
	syncv1 "github.com/jdholdren/awesync/api/sync/v1"
	"github.com/jdholdren/awesync/internal/awesome"
	awerrs "github.com/jdholdren/awesync/internal/errors"
	"github.com/jdholdren/awesync/internal/github"
	"github.com/jdholdren/awesync/internal/markdown"
	"github.com/jdholdren/awesync/internal/serverutil"
	"github.com/jdholdren/awesync/internal/syncer"
)

// Largest markdown body accepted by the validate endpoint.
const maxDocumentBytes = 2 << 20

type (
	// Syncer queues sync work.
	Syncer interface {
		EnqueueImport(ctx context.Context, req syncer.ImportRequest) (awesome.QueueItem, error)
		EnqueueExport(ctx context.Context, req syncer.ExportRequest) (awesome.QueueItem, error)
	}

	// Store reads sync state.
	Store interface {
		QueueItem(ctx context.Context, id string) (awesome.QueueItem, error)
		ListHistory(ctx context.Context, repositoryURL string, limit, offset int) ([]awesome.HistoryRecord, error)
	}

	RateLimiter interface {
		RateLimit(ctx context.Context) (github.RateLimit, error)
	}

	// Server serves the admin API.
	Server struct {
		*http.Server

		syncer Syncer
		store  Store
		limits RateLimiter
	}

	ServerConfig struct {
		Port       int
		CorsOrigin string
	}
)

func NewServer(config ServerConfig, sync Syncer, store Store, limits RateLimiter) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	srvr := Server{
		syncer: sync,
		store:  store,
		limits: limits,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			Handler:      r,
		},
	}
	if config.CorsOrigin != "" {
		srvr.Handler = handlers.CORS(
			handlers.AllowedOrigins([]string{config.CorsOrigin}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"content-type"}),
		)(r)
	}

	r.Use(serverutil.AccessLogMiddleware)
	r.HandleFuncE("/api/validate", srvr.postValidate).Methods(http.MethodPost)

	// Sync queue
	r.HandleFuncE("/api/sync/imports", srvr.postImports).Methods(http.MethodPost)
	r.HandleFuncE("/api/sync/exports", srvr.postExports).Methods(http.MethodPost)
	r.HandleFuncE("/api/sync/queue/{id}", srvr.getQueueItem).Methods(http.MethodGet)
	r.HandleFuncE("/api/sync/history", srvr.getHistory).Methods(http.MethodGet)

	r.HandleFuncE("/api/github/rate-limit", srvr.getRateLimit).Methods(http.MethodGet)

	slog.Debug("configured admin server", "port", config.Port)

	return &srvr
}

// Lints a raw markdown body. With ?strict=true warnings also make the
// document invalid.
func (s Server) postValidate(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		return awerrs.E(http.StatusBadRequest, fmt.Errorf("error reading body: %w", err))
	}
	if len(body) > maxDocumentBytes {
		return awerrs.E(http.StatusRequestEntityTooLarge, "document is too large")
	}

	result := markdown.Validate(string(body))
	if r.URL.Query().Get("strict") == "true" {
		result.Valid = result.Acceptable(true)
	}

	return serverutil.WriteJSON(w, http.StatusOK, result)
}

func (s Server) postImports(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[syncv1.CreateImportRequest](r.Body)
	if err != nil {
		return badRequest(err)
	}

	item, err := s.syncer.EnqueueImport(r.Context(), syncer.ImportRequest{
		RepositoryURL: body.RepositoryURL,
		Path:          body.Path,
		Branch:        body.Branch,
		Strict:        body.Strict,
	})
	if err != nil {
		return repositoryError(err)
	}

	return serverutil.WriteJSON(w, http.StatusAccepted, queueItemResp(item))
}

func (s Server) postExports(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[syncv1.CreateExportRequest](r.Body)
	if err != nil {
		return badRequest(err)
	}

	item, err := s.syncer.EnqueueExport(r.Context(), syncer.ExportRequest{
		RepositoryURL: body.RepositoryURL,
		Branch:        body.Branch,
	})
	if err != nil {
		return repositoryError(err)
	}

	return serverutil.WriteJSON(w, http.StatusAccepted, queueItemResp(item))
}

func (s Server) getQueueItem(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]

	item, err := s.store.QueueItem(r.Context(), id)
	if errors.Is(err, awesome.ErrNotFound) {
		return awerrs.E(http.StatusNotFound, "queue item not found")
	}
	if err != nil {
		return fmt.Errorf("error fetching queue item: %w", err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, queueItemResp(item))
}

// Lists completed syncs, newest first. Snapshots are left out.
func (s Server) getHistory(w http.ResponseWriter, r *http.Request) error {
	limit, offset := parsePaginationParams(r, defaultHistoryLimit, maxHistoryLimit)

	// Records are stored under owner/name.
	var repository string
	if ref := r.URL.Query().Get("repository_url"); ref != "" {
		repo, err := github.ParseRepo(ref)
		if err != nil {
			return repositoryError(err)
		}
		repository = repo.String()
	}

	records, err := s.store.ListHistory(r.Context(), repository, limit, offset)
	if err != nil {
		return fmt.Errorf("error listing history: %w", err)
	}

	resp := syncv1.ListHistoryResponse{
		History:    make([]syncv1.HistoryRecord, 0, len(records)),
		Pagination: syncv1.Pagination{Limit: limit, Offset: offset},
	}
	for _, rec := range records {
		resp.History = append(resp.History, syncv1.HistoryRecord{
			ID:               rec.ID,
			RepositoryURL:    rec.RepositoryURL,
			Direction:        string(rec.Direction),
			CommitSHA:        rec.CommitSHA,
			CommitMessage:    rec.CommitMessage,
			ResourcesAdded:   rec.ResourcesAdded,
			ResourcesUpdated: rec.ResourcesUpdated,
			ResourcesRemoved: rec.ResourcesRemoved,
			TotalResources:   rec.TotalResources,
			CreatedAt:        rec.CreatedAt,
		})
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

func (s Server) getRateLimit(w http.ResponseWriter, r *http.Request) error {
	rl, err := s.limits.RateLimit(r.Context())
	if err != nil {
		return awerrs.E(http.StatusBadGateway, fmt.Errorf("error fetching rate limit: %w", err))
	}

	return serverutil.WriteJSON(w, http.StatusOK, syncv1.RateLimit{
		Limit:     rl.Limit,
		Remaining: rl.Remaining,
		Used:      rl.Used,
		Reset:     rl.Reset,
	})
}

// badRequest turns a decode or validation failure into a 400, carrying the
// field details when there are any.
func badRequest(err error) error {
	var apiErr wireapi.Error
	if !errors.As(err, &apiErr) {
		return awerrs.E(http.StatusBadRequest, err)
	}

	details := make([]awerrs.Detail, 0, len(apiErr.Details))
	for _, d := range apiErr.Details {
		details = append(details, awerrs.Detail{Field: d.Field, Error: d.Error})
	}
	return awerrs.E(http.StatusBadRequest, apiErr.Message, details)
}

func repositoryError(err error) error {
	if errors.Is(err, github.ErrInvalidRepository) {
		return awerrs.E(http.StatusBadRequest, err, awerrs.Detail{Field: "repository_url", Error: err.Error()})
	}
	return fmt.Errorf("error enqueueing sync: %w", err)
}

func queueItemResp(item awesome.QueueItem) syncv1.QueueItem {
	metadata := item.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return syncv1.QueueItem{
		ID:            item.ID,
		RepositoryURL: item.RepositoryURL,
		Action:        string(item.Action),
		Status:        string(item.Status),
		Metadata:      metadata,
		ErrorMessage:  item.ErrorMessage,
		CreatedAt:     item.CreatedAt,
		ProcessedAt:   item.ProcessedAt,
	}
}
