package metadata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fileinsights/uploads/internal/upload"
)

// MemoryStore is a mutex-guarded in-process store with the same
// conditional-write semantics as the DynamoDB store. It backs tests and
// local development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*upload.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*upload.Session)}
}

// PutIfAbsent persists a new session, refusing to overwrite an existing id.
func (m *MemoryStore) PutIfAbsent(_ context.Context, session *upload.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return upload.Errorf(upload.KindConflict, "session %s already exists", session.ID)
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Get loads one session by id.
func (m *MemoryStore) Get(_ context.Context, id string) (*upload.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, upload.Errorf(upload.KindNotFound, "session %s not found", id)
	}
	return session.Clone(), nil
}

// UpdatePart upserts one part. A re-registration with the identical etag
// is a no-op; a differing etag is a conflict. Terminal records are never
// mutated, so a registration racing an abort loses here.
func (m *MemoryStore) UpdatePart(_ context.Context, id string, part upload.Part) (*upload.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, upload.Errorf(upload.KindNotFound, "session %s not found", id)
	}
	if session.Status.Terminal() {
		return nil, upload.Errorf(upload.KindInvalidState, "session %s is %s", id, session.Status)
	}
	if existing, ok := session.Parts[part.Number]; ok {
		if existing.ETag != part.ETag {
			return nil, upload.Errorf(upload.KindConflict,
				"part %d of session %s already registered with a different etag", part.Number, id)
		}
		return session.Clone(), nil
	}
	session.Parts[part.Number] = part
	session.UpdatedAt = time.Now().UTC()
	return session.Clone(), nil
}

// CompareAndSetStatus transitions status only from the expected value.
func (m *MemoryStore) CompareAndSetStatus(_ context.Context, id string, expected, next upload.Status, completedAt *time.Time) (*upload.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, upload.Errorf(upload.KindNotFound, "session %s not found", id)
	}
	if session.Status != expected {
		return nil, fmt.Errorf("session %s not in status %s: %w", id, expected, upload.ErrStatusPrecondition)
	}
	session.Status = next
	session.UpdatedAt = time.Now().UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		session.CompletedAt = &t
	}
	return session.Clone(), nil
}
