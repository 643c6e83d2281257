package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/fileinsights/uploads/internal/upload"
)

// partView is the public summary of one registered part.
type partView struct {
	Number      int       `json:"number"`
	ETag        string    `json:"etag"`
	Size        int64     `json:"size"`
	CompletedAt time.Time `json:"completed_at"`
}

// sessionView is the session's public shape. The upload token never
// appears here.
type sessionView struct {
	ID          string         `json:"id"`
	Status      upload.Status  `json:"status"`
	ObjectKey   string         `json:"object_key"`
	ContentType string         `json:"content_type"`
	SizeHint    int64          `json:"size_hint"`
	PartSize    int64          `json:"part_size"`
	PartCount   int            `json:"part_count"`
	Parts       []partView     `json:"parts"`
	Progress    float64        `json:"progress"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	PartURLs    map[int]string `json:"part_urls,omitempty"`
}

func sessionToView(s *upload.Session) sessionView {
	ordered := s.OrderedParts()
	parts := make([]partView, len(ordered))
	for i, p := range ordered {
		parts[i] = partView{Number: p.Number, ETag: p.ETag, Size: p.Size, CompletedAt: p.CompletedAt}
	}
	var progress float64
	if s.PartCount > 0 {
		progress = math.Round(float64(len(ordered))/float64(s.PartCount)*10000) / 100
	}
	return sessionView{
		ID:          s.ID,
		Status:      s.Status,
		ObjectKey:   s.ObjectKey,
		ContentType: s.ContentType,
		SizeHint:    s.SizeHint,
		PartSize:    s.PartSize,
		PartCount:   s.PartCount,
		Parts:       parts,
		Progress:    progress,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		CompletedAt: s.CompletedAt,
	}
}

// errorResponse is the wire shape of every failure.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusForKind maps the lifecycle error taxonomy to response codes.
func statusForKind(kind upload.Kind) int {
	switch kind {
	case upload.KindInvalidArgument:
		return http.StatusBadRequest
	case upload.KindNotFound:
		return http.StatusNotFound
	case upload.KindInvalidState, upload.KindConflict:
		return http.StatusConflict
	case upload.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case upload.KindBackendRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := upload.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		logger.Error("unclassified error", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal", Message: "internal server error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: string(kind), Message: err.Error()})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error:   "unauthorized",
		Message: "owner identity not found in request",
	})
}
