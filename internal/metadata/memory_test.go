package metadata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/pkg/models"
)

func drain(ch <-chan Change) []Change {
	var out []Change
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(16)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "f1", CallbackURL: "https://x.test/cb", Status: models.StatusRegistered}))
	rec, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/cb", rec.CallbackURL)
	assert.False(t, rec.HasText())
	created := rec.CreatedAt

	// Returned records are copies
	rec.CallbackURL = "mutated"
	again, _ := s.Get(ctx, "f1")
	assert.Equal(t, "https://x.test/cb", again.CallbackURL)

	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "f1", CallbackURL: "https://x.test/cb", Text: []string{"A"}, Status: models.StatusExtracted}))
	rec, _ = s.Get(ctx, "f1")
	assert.Equal(t, []string{"A"}, rec.Text)
	assert.Equal(t, created, rec.CreatedAt)

	require.NoError(t, s.SetStatus(ctx, "f1", models.StatusNotified))
	rec, _ = s.Get(ctx, "f1")
	assert.Equal(t, models.StatusNotified, rec.Status)

	assert.ErrorIs(t, s.SetStatus(ctx, "nope", models.StatusNotified), ErrNotFound)

	require.NoError(t, s.Delete(ctx, "f1"))
	require.NoError(t, s.Delete(ctx, "f1"))
	_, err = s.Get(ctx, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreChangeEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(16)

	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "f1", CallbackURL: "cb"}))
	require.NoError(t, s.SetStatus(ctx, "f1", models.StatusExtractionFailed))
	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "f1", CallbackURL: "cb", Text: []string{"A", "B"}}))
	// Same text again: no event
	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "f1", CallbackURL: "cb", Text: []string{"A", "B"}}))

	assert.Equal(t, []Change{
		{FileID: "f1", Op: OpInsert},
		{FileID: "f1", Op: OpUpdate},
	}, drain(s.Changes()))
}

func TestMemoryStoreEventsFollowWriteOrder(t *testing.T) {
	ctx := context.Background()
	const writers = 64
	s := NewMemoryStore(writers)

	// A strictly increasing clock stamps each write in the order it was applied.
	base := time.Unix(0, 0)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Put(ctx, &models.FileRecord{FileID: fmt.Sprintf("f%d", i)})
		}(i)
	}
	wg.Wait()

	changes := drain(s.Changes())
	require.Len(t, changes, writers)
	var last time.Time
	for _, c := range changes {
		rec, err := s.Get(ctx, c.FileID)
		require.NoError(t, err)
		assert.True(t, rec.UpdatedAt.After(last), "event for %s delivered out of write order", c.FileID)
		last = rec.UpdatedAt
	}
}

func TestMemoryStoreDropsWhenBufferFull(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1)

	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "a"}))
	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "b"}))
	assert.Len(t, drain(s.Changes()), 1)
}

func TestMemoryStoreListen(t *testing.T) {
	s := NewMemoryStore(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.Put(ctx, &models.FileRecord{FileID: "f1"}))

	got := make(chan Change, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Listen(ctx, func(_ context.Context, c Change) error {
			got <- c
			cancel()
			return nil
		})
	}()

	select {
	case c := <-got:
		assert.Equal(t, Change{FileID: "f1", Op: OpInsert}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
	assert.ErrorIs(t, <-done, context.Canceled)
}
