// Package pipeline implements the four steps of the document pipeline:
// registering an upload, extracting text once the object lands, delivering the
// result to the client's callback and serving the stored result.
//
// Steps share no state beyond the metadata store. Hosts (the HTTP API, the CLI
// and the change-feed listener) decode trigger payloads and call into the
// step they drive.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docpipe/internal/logger"
	"docpipe/internal/metadata"
	"docpipe/internal/storage"
	"docpipe/pkg/models"
)

// Registrar creates file records and hands out upload URLs.
type Registrar struct {
	store  metadata.Store
	signer storage.URLSigner
	bucket string
	ttl    time.Duration
	newID  func() string
	log    zerolog.Logger
}

func NewRegistrar(store metadata.Store, signer storage.URLSigner, bucket string) *Registrar {
	return &Registrar{
		store:  store,
		signer: signer,
		bucket: bucket,
		ttl:    storage.UploadURLTTL,
		newID:  uuid.NewString,
		log:    logger.WithComponent("registrar"),
	}
}

// Register validates callbackURL, persists a new record and returns a
// time-limited URL for uploading the document. If signing fails the record is
// removed again so no orphan is left behind.
func (r *Registrar) Register(ctx context.Context, callbackURL string) (*models.RegistrationResponse, error) {
	const op = "Register"

	if !ValidCallbackURL(callbackURL) {
		return nil, NewPipelineError(op, ErrValidation, nil, MsgInvalidCallbackURL)
	}

	fileID := r.newID()
	log := logger.WithFileID(r.log, fileID)

	rec := &models.FileRecord{
		FileID:      fileID,
		CallbackURL: callbackURL,
		Status:      models.StatusRegistered,
	}
	if err := r.store.Put(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Failed to store file record")
		return nil, NewPipelineError(op, ErrStore, err, MsgInternal)
	}

	uploadURL, err := r.signer.SignedPutURL(ctx, r.bucket, fileID, r.ttl)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign upload URL, removing record")
		if delErr := r.store.Delete(ctx, fileID); delErr != nil {
			log.Error().Err(delErr).Msg("Failed to remove orphaned file record")
		}
		return nil, NewPipelineError(op, ErrCredential, err, err.Error())
	}

	log.Info().Str("bucket", r.bucket).Msg("File registered")
	return &models.RegistrationResponse{FileID: fileID, UploadURL: uploadURL}, nil
}
