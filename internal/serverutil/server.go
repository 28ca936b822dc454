// Package serverutil holds the HTTP plumbing shared by the awesync servers.
package serverutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	awerrs "github.com/jdholdren/awesync/internal/errors"
	"github.com/jdholdren/awesync/internal/logger"
)

const RequestIDHeader = "X-Request-Id"

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %w", err)
	}

	return nil
}

// Validator is a request body that can check itself.
type Validator interface {
	Validate() error
}

// DecodeValid decodes a request body and then validates it. Unknown fields
// are rejected.
func DecodeValid[V Validator](r io.Reader) (V, error) {
	var v V
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("error decoding request: %w", err)
	}
	if err := v.Validate(); err != nil {
		return v, fmt.Errorf("error validating request: %w", err)
	}

	return v, nil
}

// AccessLogMiddleware logs every request and tags the request context with an
// id, which is echoed back in the response headers.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logger.Ctx(r.Context(), slog.String("request_id", id))
		r = r.WithContext(ctx)

		start := time.Now()
		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		slog.InfoContext(ctx, "request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// HandlerFuncE is an [http.HandlerFunc] that returns an error. Errors that
// are not an *errors.Error are logged and reported as a 500.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	var sErr *awerrs.Error
	if !errors.As(err, &sErr) {
		slog.ErrorContext(r.Context(), "unhandled error", "err", err)
		sErr = awerrs.E(http.StatusInternalServerError, "internal server error")
	} else if sErr.Status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "err", err)
	}

	if err := WriteJSON(w, sErr.Status, sErr); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "err", err)
	}
}

// ErrRouter is a mux router that accepts handlers returning errors.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}
