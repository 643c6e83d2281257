package storage

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/fileinsights/uploads/internal/upload"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func TestClassifyStructuralRefusals(t *testing.T) {
	for _, code := range []string{"InvalidPart", "InvalidPartOrder", "EntityTooSmall", "NoSuchUpload", "NoSuchBucket", "AccessDenied"} {
		err := classify(apiError(code), "complete multipart upload")
		assert.True(t, upload.IsKind(err, upload.KindBackendRejected), "code %s", code)
	}
}

func TestClassifyTransientFailures(t *testing.T) {
	cases := []error{
		apiError("SlowDown"),
		apiError("InternalError"),
		errors.New("dial tcp: connection refused"),
	}
	for _, cause := range cases {
		err := classify(cause, "create multipart upload")
		assert.True(t, upload.IsKind(err, upload.KindBackendUnavailable), "cause %v", cause)
	}
}

func TestClassifyPreservesCause(t *testing.T) {
	cause := apiError("InvalidPart")
	err := classify(cause, "complete multipart upload")

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "InvalidPart", apiErr.ErrorCode())
}
