package uploader

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndDuplicate(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	defer registry.Close()

	info, ctx, cancel, err := registry.Register(7, "/tmp/match.mp4", 100)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, UploadStatusActive, info.Status)
	assert.NotEmpty(t, info.ID)
	assert.NoError(t, ctx.Err())

	// Same match and file while active is rejected.
	_, _, _, err = registry.Register(7, "/tmp/match.mp4", 100)
	assert.ErrorIs(t, err, ErrUploadActive)

	// A different file is its own upload.
	_, _, cancel2, err := registry.Register(7, "/tmp/other.mp4", 100)
	require.NoError(t, err)
	cancel2()
}

func TestRegistry_ReRegisterAfterError(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	defer registry.Close()

	info, _, cancel, err := registry.Register(7, "/tmp/match.mp4", 100)
	require.NoError(t, err)
	cancel()

	registry.SetError(info.ID, errors.New("boom"))

	_, _, cancel2, err := registry.Register(7, "/tmp/match.mp4", 100)
	require.NoError(t, err)
	cancel2()
}

func TestRegistry_ProgressAndCompletion(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	defer registry.Close()

	info, _, cancel, err := registry.Register(7, "/tmp/match.mp4", 100)
	require.NoError(t, err)
	defer cancel()

	registry.UpdateProgress(info.ID, Progress{
		UploadedBytes:  50,
		TotalBytes:     100,
		CompletedParts: 1,
		TotalParts:     2,
	})

	got, err := registry.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.UploadedBytes)
	assert.InDelta(t, 50.0, got.Progress, 0.01)

	registry.SetCompleted(info.ID)
	got, err = registry.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, UploadStatusCompleted, got.Status)
	assert.Equal(t, int64(100), got.UploadedBytes)
	assert.Equal(t, 100.0, got.Progress)
}

func TestRegistry_CancelFiresContext(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	defer registry.Close()

	info, ctx, _, err := registry.Register(7, "/tmp/match.mp4", 100)
	require.NoError(t, err)

	require.NoError(t, registry.Cancel(info.ID))

	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel did not fire the upload context")
	}

	got, err := registry.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, UploadStatusCancelled, got.Status)
}

func TestRegistry_SetErrorDistinguishesCancellation(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	defer registry.Close()

	info, _, cancel, err := registry.Register(7, "/tmp/match.mp4", 100)
	require.NoError(t, err)
	cancel()

	registry.SetError(info.ID, fmt.Errorf("upload aborted: %w", context.Canceled))

	got, _ := registry.Get(info.ID)
	assert.Equal(t, UploadStatusCancelled, got.Status)
	assert.Empty(t, got.Error)
}

func TestRegistry_LoadFromStore(t *testing.T) {
	store := NewMemoryStore()

	plan := NewPlan(7, "match.mp4", 25, 10)
	plan.UploadID = "u-1"
	plan.MarkUploaded(1, "e1")
	require.NoError(t, store.Save(plan))

	registry := NewRegistry(store)
	defer registry.Close()
	require.NoError(t, registry.LoadFromStore())

	infos := registry.List()
	require.Len(t, infos, 1)
	assert.Equal(t, UploadStatusResumable, infos[0].Status)
	assert.Equal(t, int64(10), infos[0].UploadedBytes)
	assert.Equal(t, 1, infos[0].CompletedParts)
	assert.Equal(t, 3, infos[0].TotalParts)
	assert.InDelta(t, 40.0, infos[0].Progress, 0.01)
}
