package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/callback"
	"docpipe/internal/dedupe"
	"docpipe/internal/metadata"
	"docpipe/internal/ocr"
	"docpipe/internal/pipeline"
	"docpipe/pkg/models"
)

type stubSigner struct{ err error }

func (s stubSigner) SignedPutURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://storage.test/" + bucket + "/" + key + "?sig=1", nil
}

type stubDetector struct{ lines []string }

func (d stubDetector) DetectDocumentText(context.Context, ocr.DocumentRef) (*ocr.Detection, error) {
	det := &ocr.Detection{PageCount: 1, Engine: "stub"}
	for _, l := range d.lines {
		det.Blocks = append(det.Blocks, ocr.Block{Type: ocr.BlockLine, Text: l, Page: 1})
	}
	return det, nil
}

func (stubDetector) Close() error { return nil }

type pingErr struct{ err error }

func (p pingErr) Ping(context.Context) error { return p.err }

type testEnv struct {
	store  *metadata.MemoryStore
	server *Server

	mu       sync.Mutex
	callback []map[string]any
	hook     *httptest.Server
}

func newTestEnv(t *testing.T, signer stubSigner, lines []string) *testEnv {
	t.Helper()
	env := &testEnv{store: metadata.NewMemoryStore(16)}
	env.hook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		env.mu.Lock()
		env.callback = append(env.callback, body)
		env.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(env.hook.Close)

	poster := callback.NewClient(2 * time.Second)
	env.server = NewServer(
		pipeline.NewRegistrar(env.store, signer, "uploads"),
		pipeline.NewRetriever(env.store),
		pipeline.NewWorker(env.store, stubDetector{lines: lines}, poster, pipeline.WorkerConfig{Guard: dedupe.NewMemoryGuard()}),
		pipeline.NewDispatcher(env.store, poster),
	)
	return env
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAPI_RegisterAndFetch(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, nil)

	w := env.do("POST", "/files", `{"callback_url":"https://x.test/cb"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	reg := decode(t, w)
	fileID, _ := reg["file_id"].(string)
	require.NotEmpty(t, fileID)
	assert.Contains(t, reg["upload_url"], fileID)

	w = env.do("GET", "/files/"+fileID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"file_id":"`+fileID+`","text":[],"status":"registered"}`, w.Body.String())
}

func TestAPI_RegisterInvalidCallback(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, nil)

	for _, body := range []string{`{}`, `{"callback_url":"not-a-url"}`, `{"callback_url":"/relative"}`, `garbage`} {
		w := env.do("POST", "/files", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, map[string]any{"error": "Invalid callback URL supplied"}, decode(t, w))
	}
	assert.Empty(t, env.store.Changes())
}

func TestAPI_RegisterSigningFailure(t *testing.T) {
	env := newTestEnv(t, stubSigner{err: errors.New("no signing key")}, nil)

	w := env.do("POST", "/files", `{"callback_url":"https://x.test/cb"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"error": "no signing key"}, decode(t, w))

	// The insert event is still buffered; the record itself is gone.
	change := <-env.store.Changes()
	_, err := env.store.Get(context.Background(), change.FileID)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestAPI_UnknownFile(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, nil)
	w := env.do("GET", "/files/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]any{"error": "File not found"}, decode(t, w))
}

func TestAPI_NotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, nil)

	w := env.do("GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]any{"error": "Not found!"}, decode(t, w))

	w = env.do("DELETE", "/files", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, map[string]any{"error": "Method not allowed"}, decode(t, w))
}

func TestAPI_EndToEnd(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, []string{"A", "A", "B"})

	reg := decode(t, env.do("POST", "/files", `{"callback_url":"`+env.hook.URL+`/cb"}`))
	fileID := reg["file_id"].(string)

	w := env.do("POST", "/events/object-finalized", `{"bucket":"uploads","key":"`+fileID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "extracted", decode(t, w)["outcome"])

	w = env.do("GET", "/files/"+fileID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res models.ResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.ElementsMatch(t, []string{"A", "B"}, res.Text)
	assert.Equal(t, models.StatusExtracted, res.Status)

	w = env.do("POST", "/events/record-changed", `{"file_id":"`+fileID+`","op":"UPDATE"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.mu.Lock()
	defer env.mu.Unlock()
	require.Len(t, env.callback, 1)
	assert.Equal(t, fileID, env.callback[0]["file_id"])
	assert.ElementsMatch(t, []any{"A", "B"}, env.callback[0]["text"])
}

func TestAPI_EventErrors(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, []string{"A"})

	w := env.do("POST", "/events/object-finalized", `{"bucket":"uploads"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/events/object-finalized", `{"message":{"attributes":{"eventType":"OBJECT_DELETE","bucketId":"b","objectId":"k"}}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["outcome"])

	w = env.do("POST", "/events/object-finalized", `{"bucket":"uploads","key":"ghost"}`)
	assert.Equal(t, http.StatusOK, w.Code, "stray objects are acknowledged")
	out := decode(t, w)
	assert.Equal(t, "record_not_found", out["outcome"])
	assert.EqualValues(t, http.StatusNotFound, out["status_code"])

	w = env.do("POST", "/events/record-changed", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/events/record-changed", `{"file_id":"ghost"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No record with specified file ID", decode(t, w)["error"])
}

func TestAPI_PushFailureIsAcknowledgedOnce(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, nil)

	reg := decode(t, env.do("POST", "/files", `{"callback_url":"`+env.hook.URL+`/cb"}`))
	fileID := reg["file_id"].(string)
	push := `{"message":{"attributes":{"eventType":"OBJECT_FINALIZE","bucketId":"uploads","objectId":"` +
		fileID + `","objectGeneration":"7"}},"subscription":"projects/p/subscriptions/s"}`

	w := env.do("POST", "/events/object-finalized", push)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "no_text_found", out["outcome"])
	assert.EqualValues(t, http.StatusNotFound, out["status_code"])

	w = env.do("POST", "/events/object-finalized", push)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["outcome"])

	env.mu.Lock()
	defer env.mu.Unlock()
	require.Len(t, env.callback, 1)
	assert.Equal(t, map[string]any{"file_id": fileID, "error": models.FailureMessage}, env.callback[0])
}

func TestAPI_PushStoreFailureAsksForRetry(t *testing.T) {
	store := metadata.NewMemoryStore(16)
	require.NoError(t, store.Put(context.Background(), &models.FileRecord{FileID: "f1", CallbackURL: "https://x.test/cb"}))
	poster := callback.NewClient(time.Second)
	server := NewServer(
		pipeline.NewRegistrar(store, stubSigner{}, "uploads"),
		pipeline.NewRetriever(store),
		pipeline.NewWorker(brokenPut{store}, stubDetector{lines: []string{"A"}}, poster, pipeline.WorkerConfig{}),
		pipeline.NewDispatcher(store, poster),
	)

	req := httptest.NewRequest("POST", "/events/object-finalized", bytes.NewBufferString(`{"bucket":"uploads","key":"f1"}`))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "store_failure", decode(t, w)["outcome"])
}

type brokenPut struct{ metadata.Store }

func (brokenPut) Put(context.Context, *models.FileRecord) error { return errors.New("disk full") }

func TestAPI_Healthz(t *testing.T) {
	env := newTestEnv(t, stubSigner{}, nil)

	w := env.do("GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, w))

	env.server.SetHealthCheck(pingErr{err: errors.New("db down")})
	w = env.do("GET", "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
