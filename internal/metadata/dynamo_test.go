package metadata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileinsights/uploads/internal/upload"
)

func TestSessionRecordConversion(t *testing.T) {
	done := time.Now().UTC()
	session := newSession("s1")
	session.Status = upload.StatusCompleted
	session.CompletedAt = &done
	session.Parts[1] = upload.Part{Number: 1, ETag: "a", Size: 5, CompletedAt: done}
	session.Parts[12] = upload.Part{Number: 12, ETag: "b", Size: 3, CompletedAt: done}

	rec := toRecord(session)
	assert.Equal(t, "completed", rec.Status)
	assert.Contains(t, rec.Parts, "1")
	assert.Contains(t, rec.Parts, "12")

	back, err := rec.toSession()
	require.NoError(t, err)
	assert.Equal(t, session.ID, back.ID)
	assert.Equal(t, session.Status, back.Status)
	assert.Equal(t, session.Parts[12], back.Parts[12])
	require.NotNil(t, back.CompletedAt)
	assert.Equal(t, done, *back.CompletedAt)
}

func TestResolvePartConditionFailure(t *testing.T) {
	cause := errors.New("ConditionalCheckFailedException")
	part := upload.Part{Number: 1, ETag: "a", Size: 5}

	t.Run("terminal record rejects registration", func(t *testing.T) {
		current := newSession("s1")
		current.Status = upload.StatusAborted
		_, err := resolvePartConditionFailure(current, part, cause)
		assert.True(t, upload.IsKind(err, upload.KindInvalidState))
	})

	t.Run("differing etag is a conflict", func(t *testing.T) {
		current := newSession("s1")
		current.Status = upload.StatusInProgress
		current.Parts[1] = upload.Part{Number: 1, ETag: "x", Size: 5}
		_, err := resolvePartConditionFailure(current, part, cause)
		assert.True(t, upload.IsKind(err, upload.KindConflict))
	})

	t.Run("identical etag is an idempotent success", func(t *testing.T) {
		current := newSession("s1")
		current.Status = upload.StatusInProgress
		current.Parts[1] = upload.Part{Number: 1, ETag: "a", Size: 5}
		got, err := resolvePartConditionFailure(current, part, cause)
		require.NoError(t, err)
		assert.Equal(t, current, got)
	})

	t.Run("unexplained failure stays transient", func(t *testing.T) {
		current := newSession("s1")
		_, err := resolvePartConditionFailure(current, part, cause)
		assert.True(t, upload.IsKind(err, upload.KindBackendUnavailable))
		assert.ErrorIs(t, err, cause)
	})
}

func TestSessionRecordRejectsCorruptPartKey(t *testing.T) {
	rec := toRecord(newSession("s1"))
	rec.Parts["not-a-number"] = upload.Part{Number: 1, ETag: "a"}

	_, err := rec.toSession()
	assert.Error(t, err)
}
