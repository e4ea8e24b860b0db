package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docpipe/internal/callback"
	"docpipe/internal/metadata"
	"docpipe/internal/ocr"
	"docpipe/pkg/models"
)

type fakeSigner struct {
	err   error
	calls int
}

func (s *fakeSigner) SignedPutURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "https://storage.test/" + bucket + "/" + key + "?expires=" + ttl.String(), nil
}

type fakeDetector struct {
	lines []string
	err   error
	calls int
	refs  []ocr.DocumentRef
}

func (d *fakeDetector) DetectDocumentText(_ context.Context, doc ocr.DocumentRef) (*ocr.Detection, error) {
	d.calls++
	d.refs = append(d.refs, doc)
	if d.err != nil {
		return nil, d.err
	}
	det := &ocr.Detection{PageCount: 1, Engine: "fake", ProcessedAt: time.Now()}
	det.Blocks = append(det.Blocks, ocr.Block{Type: ocr.BlockPage, Text: "page text", Page: 1})
	for _, l := range d.lines {
		det.Blocks = append(det.Blocks,
			ocr.Block{Type: ocr.BlockLine, Text: l, Page: 1},
			ocr.Block{Type: ocr.BlockWord, Text: l + "-word", Page: 1},
		)
	}
	return det, nil
}

func (d *fakeDetector) Close() error { return nil }

type fakeInspector struct {
	contentType string
	err         error
	calls       int
}

func (i *fakeInspector) ContentType(context.Context, string, string) (string, error) {
	i.calls++
	return i.contentType, i.err
}

// hook records every callback request it receives.
type hook struct {
	mu       sync.Mutex
	status   int
	requests []hookRequest
	server   *httptest.Server
}

type hookRequest struct {
	ContentType string
	Body        map[string]any
}

func newHook(t *testing.T, status int) *hook {
	t.Helper()
	h := &hook{status: status}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		h.mu.Lock()
		h.requests = append(h.requests, hookRequest{ContentType: r.Header.Get("Content-Type"), Body: body})
		h.mu.Unlock()
		w.WriteHeader(h.status)
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *hook) URL() string { return h.server.URL + "/cb" }

func (h *hook) Requests() []hookRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hookRequest(nil), h.requests...)
}

// failingStore fails selected operations of an otherwise working store.
type failingStore struct {
	metadata.Store
	getErr, putErr, deleteErr error
	deletes                   []string
}

func (s *failingStore) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, id)
}

func (s *failingStore) Put(ctx context.Context, rec *models.FileRecord) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, rec)
}

func (s *failingStore) Delete(ctx context.Context, id string) error {
	s.deletes = append(s.deletes, id)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, id)
}

var errBoom = errors.New("boom")

func newPoster() *callback.Client {
	return callback.NewClient(2 * time.Second)
}

func seed(t *testing.T, store metadata.Store, rec *models.FileRecord) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), rec))
}
