package metadata

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"docpipe/internal/logger"
	"docpipe/pkg/models"
)

// MemoryStore is an in-process Store and ChangeFeed for development and tests.
// Change events are buffered and delivered to listeners in write order.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.FileRecord
	changes chan Change
	now     func() time.Time
	log     zerolog.Logger
}

// NewMemoryStore creates an empty store. buffer bounds the number of
// undelivered change events; when it is full new events are dropped and logged.
func NewMemoryStore(buffer int) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.FileRecord),
		changes: make(chan Change, buffer),
		now:     time.Now,
		log:     logger.WithComponent("memory-store"),
	}
}

func (s *MemoryStore) Get(_ context.Context, fileID string) (*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fileID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", fileID, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, rec *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	prev, exists := s.records[rec.FileID]
	stored := rec.Clone()
	stored.UpdatedAt = now
	if exists {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.records[rec.FileID] = stored

	// Published under the lock so events keep write order. publish never blocks.
	switch {
	case !exists:
		s.publish(Change{FileID: rec.FileID, Op: OpInsert})
	case !slices.Equal(prev.Text, stored.Text):
		s.publish(Change{FileID: rec.FileID, Op: OpUpdate})
	}
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, fileID string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fileID]
	if !ok {
		return fmt.Errorf("set status %s: %w", fileID, ErrNotFound)
	}
	rec.Status = status
	rec.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fileID)
	return nil
}

// Listen delivers buffered change events to handler until ctx is done.
func (s *MemoryStore) Listen(ctx context.Context, handler ChangeHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-s.changes:
			if err := handler(ctx, change); err != nil {
				s.log.Warn().Err(err).Str("file_id", change.FileID).Msg("Change handler failed")
			}
		}
	}
}

// Changes exposes the raw event channel.
func (s *MemoryStore) Changes() <-chan Change {
	return s.changes
}

func (s *MemoryStore) publish(change Change) {
	select {
	case s.changes <- change:
	default:
		s.log.Warn().Str("file_id", change.FileID).Str("op", string(change.Op)).Msg("Change buffer full, dropping event")
	}
}
