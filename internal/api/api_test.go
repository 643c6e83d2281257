package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileinsights/uploads/internal/config"
	"github.com/fileinsights/uploads/internal/metadata"
	"github.com/fileinsights/uploads/internal/upload"
)

const mib = 1024 * 1024

// stubGateway satisfies upload.StorageGateway without any backend.
type stubGateway struct {
	completeErr error
}

func (g *stubGateway) CreateMultipartUpload(context.Context, string, string) (string, error) {
	return "token", nil
}

func (g *stubGateway) PresignPartURL(_ context.Context, objectKey, _ string, partNumber int) (string, error) {
	return fmt.Sprintf("https://storage.test/%s?partNumber=%d", objectKey, partNumber), nil
}

func (g *stubGateway) CompleteMultipartUpload(context.Context, string, string, []upload.Part) error {
	return g.completeErr
}

func (g *stubGateway) AbortMultipartUpload(context.Context, string, string) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, upload.CompletedEvent) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *stubGateway) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway := &stubGateway{}
	manager := upload.NewManager(gateway, metadata.NewMemoryStore(), nopNotifier{}, config.Limits{
		MaxObjectSize: 5 * 1024 * mib,
		MinPartSize:   5 * mib,
		MaxPartNumber: 10000,
		PresignBatch:  10,
	}, logger)
	server := httptest.NewServer(NewRouter(NewHandlers(manager, logger), logger))
	t.Cleanup(server.Close)
	return server, gateway
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, method, url, token string, body any, extraHeaders map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/uploads", "", map[string]any{
		"filename": "a.bin", "size": 8 * mib,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestUploadFlowOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	token := bearerToken(t, "alice")

	// initiate
	resp, body := doJSON(t, http.MethodPost, server.URL+"/uploads", token, map[string]any{
		"filename": "video.mp4", "size": 8 * mib, "part_size": 5 * mib,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, "initiated", body["status"])
	assert.Len(t, body["part_urls"], 2)

	// register both parts, etag via header
	resp, body = doJSON(t, http.MethodPut, server.URL+"/uploads/"+id+"/parts/1", token,
		map[string]any{"size": 5 * mib}, map[string]string{"ETag": "a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", body["status"])

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/uploads/"+id+"/parts/2", token,
		map[string]any{"size": 3 * mib}, map[string]string{"ETag": "b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// refresh a part URL
	resp, body = doJSON(t, http.MethodPost, server.URL+"/uploads/"+id+"/urls", token,
		map[string]any{"part_numbers": []int{2}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["part_urls"].(map[string]any), "2")

	// complete
	resp, body = doJSON(t, http.MethodPost, server.URL+"/uploads/"+id+"/complete", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(100), body["progress"])
	assert.NotEmpty(t, body["completed_at"])

	// read back
	resp, body = doJSON(t, http.MethodGet, server.URL+"/uploads/"+id, token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
}

func TestErrorStatusMapping(t *testing.T) {
	server, gateway := newTestServer(t)
	alice := bearerToken(t, "alice")

	// invalid argument -> 400
	resp, body := doJSON(t, http.MethodPost, server.URL+"/uploads", alice,
		map[string]any{"filename": "", "size": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", body["error"])

	// not found -> 404
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/uploads/no-such-id", alice, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// set up a session for state and conflict checks
	_, created := doJSON(t, http.MethodPost, server.URL+"/uploads", alice,
		map[string]any{"filename": "a.bin", "size": 8 * mib}, nil)
	id := created["id"].(string)

	// foreign owner reads as 404
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/uploads/"+id, bearerToken(t, "bob"), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// conflict -> 409
	doJSON(t, http.MethodPut, server.URL+"/uploads/"+id+"/parts/1", alice,
		map[string]any{"size": 5 * mib}, map[string]string{"ETag": "a"})
	resp, body = doJSON(t, http.MethodPut, server.URL+"/uploads/"+id+"/parts/1", alice,
		map[string]any{"size": 5 * mib}, map[string]string{"ETag": "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["error"])

	// backend rejection -> 502
	doJSON(t, http.MethodPut, server.URL+"/uploads/"+id+"/parts/2", alice,
		map[string]any{"size": 3 * mib}, map[string]string{"ETag": "b"})
	gateway.completeErr = upload.Errorf(upload.KindBackendRejected, "InvalidPart")
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/uploads/"+id+"/complete", alice, nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	gateway.completeErr = nil

	// invalid state -> 409
	doJSON(t, http.MethodDelete, server.URL+"/uploads/"+id, alice, nil, nil)
	resp, body = doJSON(t, http.MethodPut, server.URL+"/uploads/"+id+"/parts/1", alice,
		map[string]any{"size": 5 * mib}, map[string]string{"ETag": "a"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_state", body["error"])
}
