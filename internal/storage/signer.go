// Package storage issues time-limited upload credentials for the object store
// and reads back the attributes of uploaded objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"

	"docpipe/internal/gcp"
	"docpipe/internal/logger"
)

// UploadURLTTL is how long an issued upload URL stays valid.
const UploadURLTTL = time.Hour

// ErrSigning is returned when an upload credential can't be issued.
var ErrSigning = errors.New("failed to sign upload URL")

// URLSigner issues pre-authorized single-object write URLs.
type URLSigner interface {
	// SignedPutURL returns a URL that allows one HTTP PUT of bucket/key until ttl elapses.
	SignedPutURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// ObjectInspector reads the stored attributes of an uploaded object.
type ObjectInspector interface {
	// ContentType returns the content type the object was uploaded with.
	ContentType(ctx context.Context, bucket, key string) (string, error)
}

// GCSSigner signs V4 URLs for Google Cloud Storage. It also implements
// ObjectInspector with the same client.
type GCSSigner struct {
	client     *gcs.Client
	accessID   string
	privateKey []byte
	log        zerolog.Logger
}

// NewGCSSigner creates a signer with credentials from environment. With a
// service account key the URL is signed locally; otherwise the client falls
// back to the IAM signBlob API using Application Default Credentials.
func NewGCSSigner(ctx context.Context) (*GCSSigner, error) {
	client, err := gcs.NewClient(ctx, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	key, err := gcp.ServiceAccountKey()
	if err != nil {
		client.Close()
		return nil, err
	}

	var accessID string
	var privateKey []byte
	if key != nil {
		jwtConfig, err := google.JWTConfigFromJSON(key)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("parse service account key: %w", err)
		}
		accessID, privateKey = jwtConfig.Email, jwtConfig.PrivateKey
	}

	return NewGCSSignerWithClient(client, accessID, privateKey), nil
}

// NewGCSSignerWithClient creates a signer with an explicit client and key (for testing).
func NewGCSSignerWithClient(client *gcs.Client, accessID string, privateKey []byte) *GCSSigner {
	return &GCSSigner{
		client:     client,
		accessID:   accessID,
		privateKey: privateKey,
		log:        logger.WithComponent("gcs-signer"),
	}
}

// SignedPutURL implements URLSigner.
func (s *GCSSigner) SignedPutURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodPut,
		Expires:        time.Now().Add(ttl),
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
	}

	url, err := s.client.Bucket(bucket).SignedURL(key, opts)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("bucket", bucket).
			Str("key", key).
			Msg("Failed to sign upload URL")
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return url, nil
}

// ContentType implements ObjectInspector.
func (s *GCSSigner) ContentType(ctx context.Context, bucket, key string) (string, error) {
	attrs, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return "", fmt.Errorf("read attributes of %s/%s: %w", bucket, key, err)
	}
	return attrs.ContentType, nil
}

// Close closes the underlying storage client.
func (s *GCSSigner) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
