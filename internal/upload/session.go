package upload

import (
	"sort"
	"time"
)

// Status is the lifecycle state of an upload session.
// Transitions are monotonic: initiated -> in_progress -> {completed | aborted}.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Part records one uploaded part as reported by the client after it has
// pushed the bytes directly to storage.
type Part struct {
	Number      int       `json:"number" dynamodbav:"number"`
	ETag        string    `json:"etag" dynamodbav:"etag"`
	Size        int64     `json:"size" dynamodbav:"size"`
	CompletedAt time.Time `json:"completed_at" dynamodbav:"completed_at"`
}

// Session is the durable record of one multipart upload. The metadata
// store owns persistence; this struct is the in-memory view.
type Session struct {
	ID          string `json:"id" dynamodbav:"id"`
	Owner       string `json:"owner" dynamodbav:"owner"`
	ObjectKey   string `json:"object_key" dynamodbav:"object_key"`
	ContentType string `json:"content_type" dynamodbav:"content_type"`

	// SizeHint is the client-declared total size. Advisory only; the
	// real size is the sum of registered part sizes.
	SizeHint int64 `json:"size_hint" dynamodbav:"size_hint"`

	// PartSize is the client-declared chunk size; PartCount is the number
	// of parts that follows from SizeHint and PartSize. Parts before the
	// last must meet the backend's minimum part size.
	PartSize  int64 `json:"part_size" dynamodbav:"part_size"`
	PartCount int   `json:"part_count" dynamodbav:"part_count"`

	Status Status `json:"status" dynamodbav:"status"`

	// Parts is keyed by part number (1-based). Insertion order is
	// irrelevant; number order matters only at finalization.
	Parts map[int]Part `json:"parts" dynamodbav:"parts"`

	// UploadToken is the storage backend's multipart handle. It is owned
	// exclusively by the session and never exposed to clients.
	UploadToken string `json:"-" dynamodbav:"upload_token"`

	CreatedAt   time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" dynamodbav:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
}

// TotalSize sums the registered part sizes.
func (s *Session) TotalSize() int64 {
	var total int64
	for _, p := range s.Parts {
		total += p.Size
	}
	return total
}

// OrderedParts returns the registered parts sorted by part number, the
// order the storage backend requires for finalization.
func (s *Session) OrderedParts() []Part {
	parts := make([]Part, 0, len(s.Parts))
	for _, p := range s.Parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts
}

// Clone returns a deep copy so callers can hand sessions across
// goroutines without sharing the parts map.
func (s *Session) Clone() *Session {
	dup := *s
	dup.Parts = make(map[int]Part, len(s.Parts))
	for n, p := range s.Parts {
		dup.Parts[n] = p
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		dup.CompletedAt = &t
	}
	return &dup
}

// CompletedEvent is published to the notification channel after a session
// reaches completed status. Analysis workers consume it downstream.
type CompletedEvent struct {
	SessionID   string    `json:"session_id"`
	Owner       string    `json:"owner"`
	ObjectKey   string    `json:"object_key"`
	ContentType string    `json:"content_type"`
	TotalSize   int64     `json:"total_size"`
	CompletedAt time.Time `json:"completed_at"`
}
