// Package api is the thin HTTP surface over the upload lifecycle
// manager: request decoding, owner resolution, and error-kind to
// status-code mapping. All business rules live in the manager.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fileinsights/uploads/internal/auth"
	"github.com/fileinsights/uploads/internal/upload"
)

// Handlers maps HTTP requests onto lifecycle manager operations.
type Handlers struct {
	manager *upload.Manager
	logger  *slog.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(manager *upload.Manager, logger *slog.Logger) *Handlers {
	return &Handlers{manager: manager, logger: logger}
}

// NewRouter creates and configures the chi router.
func NewRouter(h *Handlers, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware for all routes
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(auth.OwnerMiddleware(logger))

	r.Route("/uploads", func(r chi.Router) {
		r.Post("/", h.Initiate)
		r.Get("/{uploadID}", h.Get)
		r.Post("/{uploadID}/urls", h.PartURLs)
		r.Put("/{uploadID}/parts/{partNumber}", h.RegisterPart)
		r.Post("/{uploadID}/complete", h.Complete)
		r.Delete("/{uploadID}", h.Abort)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

type initiateRequest struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	PartSize    int64  `json:"part_size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type partURLsRequest struct {
	PartNumbers []int `json:"part_numbers"`
}

type registerPartRequest struct {
	Size int64 `json:"size"`
}

// Initiate handles POST /uploads.
func (h *Handlers) Initiate(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.GetOwner(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, upload.Errorf(upload.KindInvalidArgument, "invalid request body"))
		return
	}

	result, err := h.manager.Initiate(r.Context(), owner, upload.InitiateRequest{
		Filename:    req.Filename,
		Size:        req.Size,
		PartSize:    req.PartSize,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	view := sessionToView(result.Session)
	view.PartURLs = result.PartURLs
	writeJSON(w, http.StatusCreated, view)
}

// Get handles GET /uploads/{uploadID}.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.GetOwner(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	session, err := h.manager.Get(r.Context(), owner, chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToView(session))
}

// PartURLs handles POST /uploads/{uploadID}/urls, re-issuing presigned
// URLs for the requested part numbers.
func (h *Handlers) PartURLs(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.GetOwner(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req partURLsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, upload.Errorf(upload.KindInvalidArgument, "invalid request body"))
		return
	}

	urls, err := h.manager.PartURLs(r.Context(), owner, chi.URLParam(r, "uploadID"), req.PartNumbers)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"part_urls": urls})
}

// RegisterPart handles PUT /uploads/{uploadID}/parts/{partNumber}. The
// part's ETag arrives in the ETag header, as returned by the storage
// backend to the client.
func (h *Handlers) RegisterPart(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.GetOwner(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	partNumber, err := strconv.Atoi(chi.URLParam(r, "partNumber"))
	if err != nil {
		writeError(w, h.logger, upload.Errorf(upload.KindInvalidArgument, "part number must be an integer"))
		return
	}
	etag := r.Header.Get("ETag")

	var req registerPartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, upload.Errorf(upload.KindInvalidArgument, "invalid request body"))
		return
	}

	session, err := h.manager.RegisterPart(r.Context(), owner, chi.URLParam(r, "uploadID"), partNumber, etag, req.Size)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToView(session))
}

// Complete handles POST /uploads/{uploadID}/complete.
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.GetOwner(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	session, err := h.manager.Complete(r.Context(), owner, chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToView(session))
}

// Abort handles DELETE /uploads/{uploadID}.
func (h *Handlers) Abort(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.GetOwner(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	session, err := h.manager.Abort(r.Context(), owner, chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToView(session))
}
