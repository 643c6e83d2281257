// Package upload owns the lifecycle of resumable multipart uploads: the
// session state machine, transition validation, and coordination of the
// storage, metadata, and notification collaborators.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fileinsights/uploads/internal/config"
)

// StorageGateway issues time-limited part URLs and finalizes or releases
// multipart objects. Any backend exposing multipart primitives can
// satisfy it; errors must carry an upload.Kind.
type StorageGateway interface {
	CreateMultipartUpload(ctx context.Context, objectKey, contentType string) (string, error)
	PresignPartURL(ctx context.Context, objectKey, uploadToken string, partNumber int) (string, error)
	CompleteMultipartUpload(ctx context.Context, objectKey, uploadToken string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, objectKey, uploadToken string) error
}

// ErrStatusPrecondition is returned by MetadataStore.CompareAndSetStatus
// when the session is no longer in the expected status. The manager
// resolves the race by re-reading the record.
var ErrStatusPrecondition = errors.New("status precondition failed")

// MetadataStore durably persists sessions keyed by id. UpdatePart must be
// a per-part conditional upsert and CompareAndSetStatus a conditional
// write on the prior status, so that concurrent writers never lose
// updates (the store, not the manager, is the unit of concurrency
// control).
type MetadataStore interface {
	PutIfAbsent(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// UpdatePart upserts one part. Registering an existing part with the
	// same ETag is a no-op; a different ETag yields KindConflict.
	UpdatePart(ctx context.Context, id string, part Part) (*Session, error)
	// CompareAndSetStatus transitions status only when the stored status
	// equals expected, returning ErrStatusPrecondition otherwise.
	CompareAndSetStatus(ctx context.Context, id string, expected, next Status, completedAt *time.Time) (*Session, error)
}

// Notifier dispatches completion events to the analysis pipeline with
// the channel's own at-least-once delivery guarantee.
type Notifier interface {
	Publish(ctx context.Context, event CompletedEvent) error
}

// InitiateRequest is the client's declaration of an upload.
type InitiateRequest struct {
	Filename    string
	Size        int64
	PartSize    int64
	ContentType string
}

// InitiateResult pairs the new session with the first batch of presigned
// part URLs. Further URLs come from PartURLs.
type InitiateResult struct {
	Session  *Session
	PartURLs map[int]string
}

// Manager validates lifecycle transitions and coordinates the
// collaborators. It performs no hidden retries for business-rule
// failures; only idempotent gateway calls get a single retry on
// transient errors.
type Manager struct {
	gateway  StorageGateway
	store    MetadataStore
	notifier Notifier
	limits   config.Limits
	logger   *slog.Logger
}

// NewManager wires a lifecycle manager. The logger must not be nil.
func NewManager(gateway StorageGateway, store MetadataStore, notifier Notifier, limits config.Limits, logger *slog.Logger) *Manager {
	return &Manager{
		gateway:  gateway,
		store:    store,
		notifier: notifier,
		limits:   limits,
		logger:   logger,
	}
}

// Initiate creates a new upload session. The multipart handle is obtained
// first; if the metadata write then fails the handle is released, so a
// failed initiate leaves no record behind.
func (m *Manager) Initiate(ctx context.Context, owner string, req InitiateRequest) (*InitiateResult, error) {
	if owner == "" {
		return nil, Errorf(KindInvalidArgument, "owner cannot be empty")
	}
	if err := validateFilename(req.Filename); err != nil {
		return nil, err
	}
	if req.Size <= 0 {
		return nil, Errorf(KindInvalidArgument, "size must be greater than zero")
	}
	if req.Size > m.limits.MaxObjectSize {
		return nil, Errorf(KindInvalidArgument, "size %d exceeds maximum %d", req.Size, m.limits.MaxObjectSize)
	}
	partSize := req.PartSize
	if partSize == 0 {
		partSize = m.limits.MinPartSize
	}
	if partSize < m.limits.MinPartSize {
		return nil, Errorf(KindInvalidArgument, "part size %d below minimum %d", partSize, m.limits.MinPartSize)
	}
	partCount := int((req.Size + partSize - 1) / partSize)
	if partCount > m.limits.MaxPartNumber {
		return nil, Errorf(KindInvalidArgument, "upload requires %d parts, backend allows at most %d", partCount, m.limits.MaxPartNumber)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.New().String()
	objectKey := fmt.Sprintf("uploads/%s/%s/%s", owner, id, req.Filename)

	token, err := m.withTransientRetry(ctx, func() (string, error) {
		return m.gateway.CreateMultipartUpload(ctx, objectKey, contentType)
	})
	if err != nil {
		m.logger.Error("multipart handle creation failed", "object_key", objectKey, "error", err)
		return nil, err
	}

	// Presign before persisting: a presign failure must not leave an
	// orphaned record behind.
	batch := m.limits.PresignBatch
	if batch > partCount {
		batch = partCount
	}
	urls := make(map[int]string, batch)
	for n := 1; n <= batch; n++ {
		url, err := m.gateway.PresignPartURL(ctx, objectKey, token, n)
		if err != nil {
			m.releaseHandle(ctx, objectKey, token)
			return nil, err
		}
		urls[n] = url
	}

	now := time.Now().UTC()
	session := &Session{
		ID:          id,
		Owner:       owner,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeHint:    req.Size,
		PartSize:    partSize,
		PartCount:   partCount,
		Status:      StatusInitiated,
		Parts:       make(map[int]Part),
		UploadToken: token,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.PutIfAbsent(ctx, session); err != nil {
		m.releaseHandle(ctx, objectKey, token)
		return nil, err
	}

	m.logger.Info("upload initiated", "session_id", id, "owner", owner, "object_key", objectKey, "parts", partCount)
	return &InitiateResult{Session: session, PartURLs: urls}, nil
}

// PartURLs re-issues presigned URLs for the named parts of a non-terminal
// session.
func (m *Manager) PartURLs(ctx context.Context, owner, id string, partNumbers []int) (map[int]string, error) {
	if len(partNumbers) == 0 {
		return nil, Errorf(KindInvalidArgument, "part numbers cannot be empty")
	}
	session, err := m.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, Errorf(KindInvalidState, "session %s is %s", id, session.Status)
	}
	for _, n := range partNumbers {
		if n < 1 || n > session.PartCount {
			return nil, Errorf(KindInvalidArgument, "part number %d outside 1..%d", n, session.PartCount)
		}
	}

	urls := make(map[int]string, len(partNumbers))
	for _, n := range partNumbers {
		url, err := m.gateway.PresignPartURL(ctx, session.ObjectKey, session.UploadToken, n)
		if err != nil {
			return nil, err
		}
		urls[n] = url
	}
	return urls, nil
}

// RegisterPart records one client-reported completed part. Registration
// is idempotent per (part number, etag); a differing etag is a conflict.
// The first successful registration moves the session to in_progress.
func (m *Manager) RegisterPart(ctx context.Context, owner, id string, partNumber int, etag string, size int64) (*Session, error) {
	if partNumber < 1 || partNumber > m.limits.MaxPartNumber {
		return nil, Errorf(KindInvalidArgument, "part number %d outside 1..%d", partNumber, m.limits.MaxPartNumber)
	}
	if etag == "" {
		return nil, Errorf(KindInvalidArgument, "etag cannot be empty")
	}
	if size <= 0 {
		return nil, Errorf(KindInvalidArgument, "part size must be greater than zero")
	}

	session, err := m.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, Errorf(KindInvalidState, "session %s is %s", id, session.Status)
	}
	if partNumber > session.PartCount {
		return nil, Errorf(KindInvalidArgument, "part number %d outside 1..%d", partNumber, session.PartCount)
	}
	if partNumber < session.PartCount && size < m.limits.MinPartSize {
		return nil, Errorf(KindInvalidArgument, "part %d size %d below minimum %d for non-final parts", partNumber, size, m.limits.MinPartSize)
	}

	part := Part{
		Number:      partNumber,
		ETag:        etag,
		Size:        size,
		CompletedAt: time.Now().UTC(),
	}
	updated, err := m.store.UpdatePart(ctx, id, part)
	if err != nil {
		return nil, err
	}

	if updated.Status == StatusInitiated {
		casResult, err := m.store.CompareAndSetStatus(ctx, id, StatusInitiated, StatusInProgress, nil)
		switch {
		case err == nil:
			updated = casResult
		case errors.Is(err, ErrStatusPrecondition):
			// Another part registration won the transition; report the
			// current record.
			if updated, err = m.store.Get(ctx, id); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	m.logger.Info("part registered", "session_id", id, "part", partNumber, "size", size)
	return updated, nil
}

// Complete finalizes the multipart object and transitions the session to
// completed. Completing an already-completed session is an idempotent
// success; completing an aborted one is rejected. Exactly one of two
// racing completions performs the transition, the other observes it.
func (m *Manager) Complete(ctx context.Context, owner, id string) (*Session, error) {
	session, err := m.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case StatusCompleted:
		return session, nil
	case StatusAborted:
		return nil, Errorf(KindInvalidState, "session %s is aborted", id)
	case StatusInitiated:
		return nil, Errorf(KindInvalidState, "session %s has no registered parts", id)
	}
	if len(session.Parts) == 0 {
		return nil, Errorf(KindInvalidState, "session %s has no registered parts", id)
	}

	if err := m.gateway.CompleteMultipartUpload(ctx, session.ObjectKey, session.UploadToken, session.OrderedParts()); err != nil {
		// A rejection can mean a concurrent completion already consumed
		// the handle (the backend reports the handle as gone). Re-read
		// before surfacing: a completed record makes this call an
		// idempotent success; anything else keeps the rejection.
		if IsKind(err, KindBackendRejected) {
			current, getErr := m.store.Get(ctx, id)
			if getErr == nil && current.Status == StatusCompleted {
				return current, nil
			}
		}
		m.logger.Error("multipart finalization failed", "session_id", id, "error", err)
		return nil, err
	}

	now := time.Now().UTC()
	final, err := m.store.CompareAndSetStatus(ctx, id, StatusInProgress, StatusCompleted, &now)
	if errors.Is(err, ErrStatusPrecondition) {
		// Lost the race. A concurrent complete already won (idempotent
		// success) or a concurrent abort did (rejected).
		current, getErr := m.store.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == StatusCompleted {
			return current, nil
		}
		return nil, Errorf(KindInvalidState, "session %s is %s", id, current.Status)
	}
	if err != nil {
		return nil, err
	}

	event := CompletedEvent{
		SessionID:   final.ID,
		Owner:       final.Owner,
		ObjectKey:   final.ObjectKey,
		ContentType: final.ContentType,
		TotalSize:   final.TotalSize(),
		CompletedAt: now,
	}
	if err := m.notifier.Publish(ctx, event); err != nil {
		// The channel redelivers on its own at-least-once policy; the
		// completed state stands either way.
		m.logger.Error("completion notification publish failed", "session_id", id, "error", err)
	}

	m.logger.Info("upload completed", "session_id", id, "object_key", final.ObjectKey, "total_size", event.TotalSize)
	return final, nil
}

// Abort releases the multipart handle and transitions the session to
// aborted. Aborting an already-aborted session is an idempotent success;
// aborting a completed one is rejected. The storage-side release is best
// effort: backend lifecycle rules garbage-collect what a failed release
// leaves behind.
func (m *Manager) Abort(ctx context.Context, owner, id string) (*Session, error) {
	session, err := m.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusCompleted {
		return nil, Errorf(KindInvalidState, "session %s is completed", id)
	}
	if session.Status == StatusAborted {
		return session, nil
	}

	if _, err := m.withTransientRetry(ctx, func() (string, error) {
		return "", m.gateway.AbortMultipartUpload(ctx, session.ObjectKey, session.UploadToken)
	}); err != nil {
		m.logger.Warn("multipart handle release failed, relying on backend lifecycle cleanup", "session_id", id, "error", err)
	}

	expected := session.Status
	for i := 0; i < 3; i++ {
		final, err := m.store.CompareAndSetStatus(ctx, id, expected, StatusAborted, nil)
		if err == nil {
			m.logger.Info("upload aborted", "session_id", id)
			return final, nil
		}
		if !errors.Is(err, ErrStatusPrecondition) {
			return nil, err
		}
		current, getErr := m.store.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch current.Status {
		case StatusAborted:
			return current, nil
		case StatusCompleted:
			return nil, Errorf(KindInvalidState, "session %s is completed", id)
		}
		// A racing part registration moved initiated to in_progress.
		expected = current.Status
	}
	return nil, Errorf(KindInvalidState, "session %s status kept changing during abort", id)
}

// Get returns the session read-only. When owner is non-empty it must
// match the record; a mismatch reads as not found so the API never acts
// as an existence oracle for foreign sessions.
func (m *Manager) Get(ctx context.Context, owner, id string) (*Session, error) {
	return m.load(ctx, owner, id)
}

func (m *Manager) load(ctx context.Context, owner, id string) (*Session, error) {
	if id == "" {
		return nil, Errorf(KindInvalidArgument, "session id cannot be empty")
	}
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != "" && session.Owner != owner {
		return nil, Errorf(KindNotFound, "session %s not found", id)
	}
	return session, nil
}

// releaseHandle is best-effort cleanup for handles whose session never
// became visible.
func (m *Manager) releaseHandle(ctx context.Context, objectKey, token string) {
	if err := m.gateway.AbortMultipartUpload(ctx, objectKey, token); err != nil {
		m.logger.Warn("failed to release multipart handle", "object_key", objectKey, "error", err)
	}
}

// withTransientRetry retries fn once when the first attempt failed with a
// transient backend error. Only idempotent gateway calls go through it.
func (m *Manager) withTransientRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	out, err := fn()
	if err == nil || !IsKind(err, KindBackendUnavailable) {
		return out, err
	}
	if ctx.Err() != nil {
		return "", err
	}
	return fn()
}

func validateFilename(name string) error {
	switch {
	case name == "":
		return Errorf(KindInvalidArgument, "filename cannot be empty")
	case len(name) > 1024:
		return Errorf(KindInvalidArgument, "filename too long")
	case strings.HasPrefix(name, "/"):
		return Errorf(KindInvalidArgument, "filename cannot be absolute")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return Errorf(KindInvalidArgument, "filename cannot contain empty path segments")
		}
		if seg == ".." {
			return Errorf(KindInvalidArgument, "filename cannot contain path traversal")
		}
	}
	return nil
}
