package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/gantry/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestAddAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{UUID: "aaa", JobName: "unit", Result: "SUCCESS", StartedAt: base, CompletedAt: base.Add(time.Minute)},
		{UUID: "bbb", JobName: "lint", Result: "FAILURE", StartedAt: base, CompletedAt: base.Add(2 * time.Minute)},
		{UUID: "ccc", JobName: "deploy", Result: "ERROR", ErrorDetail: "variables failed to render", StartedAt: base, CompletedAt: base.Add(3 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, store.Add(ctx, rec))
	}

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first.
	assert.Equal(t, "ccc", got[0].UUID)
	assert.Equal(t, "variables failed to render", got[0].ErrorDetail)
	assert.Equal(t, "aaa", got[2].UUID)
	assert.True(t, got[0].CompletedAt.After(got[2].CompletedAt))
}

func TestRecentLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Add(ctx, Record{
			UUID:        string(rune('a' + i)),
			JobName:     "unit",
			Result:      "SUCCESS",
			StartedAt:   base,
			CompletedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
