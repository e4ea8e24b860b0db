package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestSignedPutURL(t *testing.T) {
	ctx := context.Background()
	client, err := gcs.NewClient(ctx, option.WithoutAuthentication())
	require.NoError(t, err)

	signer := NewGCSSignerWithClient(client, "docpipe@project.iam.gserviceaccount.com", testKey(t))
	t.Cleanup(func() { _ = signer.Close() })

	raw, err := signer.SignedPutURL(ctx, "uploads", "3f0c2c1e", UploadURLTTL)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Contains(t, u.Path, "/uploads/3f0c2c1e")

	q := u.Query()
	assert.Equal(t, "GOOG4-RSA-SHA256", q.Get("X-Goog-Algorithm"))
	assert.Contains(t, q.Get("X-Goog-Credential"), "docpipe@project.iam.gserviceaccount.com")
	assert.Contains(t, []string{"3599", "3600"}, q.Get("X-Goog-Expires"))
	assert.NotEmpty(t, q.Get("X-Goog-Signature"))
}

func TestSignedPutURLWithBadKey(t *testing.T) {
	ctx := context.Background()
	client, err := gcs.NewClient(ctx, option.WithoutAuthentication())
	require.NoError(t, err)

	signer := NewGCSSignerWithClient(client, "docpipe@project.iam.gserviceaccount.com", []byte("not a key"))
	_, err = signer.SignedPutURL(ctx, "uploads", "abc", UploadURLTTL)
	assert.ErrorIs(t, err, ErrSigning)
}

func TestContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/b/uploads/o/3f0c2c1e") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"bucket":"uploads","name":"3f0c2c1e","contentType":"image/png","generation":"7"}`))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client, err := gcs.NewClient(ctx, option.WithoutAuthentication(), option.WithEndpoint(srv.URL+"/storage/v1/"))
	require.NoError(t, err)

	var inspector ObjectInspector = NewGCSSignerWithClient(client, "", nil)
	t.Cleanup(func() { _ = client.Close() })

	contentType, err := inspector.ContentType(ctx, "uploads", "3f0c2c1e")
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)

	_, err = inspector.ContentType(ctx, "uploads", "missing")
	assert.Error(t, err)
}
