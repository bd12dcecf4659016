package ota

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energymon-server/energymon-server/internal/models"
)

// fakeManifestStore serves firmware from memory
type fakeManifestStore struct {
	latest    string
	manifests map[string]*models.FirmwareManifest
	images    map[string][]byte
}

func (f *fakeManifestStore) LatestVersion(context.Context) (string, error) {
	return f.latest, nil
}

func (f *fakeManifestStore) GetManifest(_ context.Context, version string) (*models.FirmwareManifest, error) {
	m, ok := f.manifests[version]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return m, nil
}

func (f *fakeManifestStore) GetFirmwareChunk(_ context.Context, version string, index int) ([]byte, error) {
	img, ok := f.images[version]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	m := f.manifests[version]
	start := index * m.ChunkSize
	end := start + m.ChunkSize
	if end > len(img) {
		end = len(img)
	}
	return img[start:end], nil
}

func newTestStore() *fakeManifestStore {
	img := bytes.Repeat([]byte{0xA5}, 1000)
	return &fakeManifestStore{
		latest: "2.1.0",
		manifests: map[string]*models.FirmwareManifest{
			"2.1.0": {
				Version:     "2.1.0",
				SHA256Hash:  "deadbeef",
				Signature:   "cafe",
				IV:          "0102030405060708090a0b0c0d0e0f10",
				ChunkSize:   256,
				TotalChunks: 4,
			},
		},
		images: map[string][]byte{"2.1.0": img},
	}
}

func TestCheckForUpdate(t *testing.T) {
	m := NewManager(newTestStore(), 0)
	ctx := context.Background()

	manifest, available, err := m.CheckForUpdate(ctx, "meter-001", "2.0.0")
	require.NoError(t, err)
	assert.True(t, available)
	assert.Equal(t, "2.1.0", manifest.Version)
	assert.Equal(t, 4, manifest.TotalChunks)

	_, available, err = m.CheckForUpdate(ctx, "meter-001", "2.1.0")
	require.NoError(t, err)
	assert.False(t, available)
}

func TestInitiateUnknownVersion(t *testing.T) {
	m := NewManager(newTestStore(), 0)

	_, err := m.Initiate(context.Background(), "meter-001", "9.9.9")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestInitiateConflictAndStaleReclaim(t *testing.T) {
	m := NewManager(newTestStore(), 0)
	ctx := context.Background()

	clock := time.Now()
	m.now = func() time.Time { return clock }

	first, err := m.Initiate(ctx, "meter-001", "2.1.0")
	require.NoError(t, err)

	// Active session blocks a second initiate
	_, err = m.Initiate(ctx, "meter-001", "2.1.0")
	assert.ErrorIs(t, err, ErrSessionConflict)

	// Still inside the window just before the boundary
	clock = clock.Add(DefaultStaleTimeout)
	_, err = m.Initiate(ctx, "meter-001", "2.1.0")
	assert.ErrorIs(t, err, ErrSessionConflict)

	// Past the window the stale session is reclaimed
	clock = clock.Add(time.Second)
	second, err := m.Initiate(ctx, "meter-001", "2.1.0")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, uint64(1), stats.Failed) // reclaimed session counts as failed
}

func TestGetChunk(t *testing.T) {
	m := NewManager(newTestStore(), 0)
	ctx := context.Background()

	_, err := m.GetChunk(ctx, "meter-001", "2.1.0", 0)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = m.Initiate(ctx, "meter-001", "2.1.0")
	require.NoError(t, err)

	_, err = m.GetChunk(ctx, "meter-001", "1.0.0", 0)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	_, err = m.GetChunk(ctx, "meter-001", "2.1.0", 4)
	assert.ErrorIs(t, err, ErrInvalidChunkIndex)

	_, err = m.GetChunk(ctx, "meter-001", "2.1.0", -1)
	assert.ErrorIs(t, err, ErrInvalidChunkIndex)

	chunk, err := m.GetChunk(ctx, "meter-001", "2.1.0", 0)
	require.NoError(t, err)
	assert.Len(t, chunk, 256)

	// Final chunk is the remainder of the image
	chunk, err = m.GetChunk(ctx, "meter-001", "2.1.0", 3)
	require.NoError(t, err)
	assert.Len(t, chunk, 1000-3*256)

	session, ok := m.Session("meter-001")
	require.True(t, ok)
	assert.Equal(t, int64(256+232), session.BytesTransferred)
	assert.Equal(t, 3, session.CurrentChunk)
}

func TestCompleteAndCancel(t *testing.T) {
	m := NewManager(newTestStore(), 0)
	ctx := context.Background()

	_, err := m.Initiate(ctx, "meter-001", "2.1.0")
	require.NoError(t, err)
	_, err = m.Initiate(ctx, "meter-002", "2.1.0")
	require.NoError(t, err)
	_, err = m.Initiate(ctx, "meter-003", "2.1.0")
	require.NoError(t, err)

	assert.True(t, m.Complete("meter-001", true))
	assert.True(t, m.Complete("meter-002", false))
	assert.True(t, m.Cancel("meter-003"))

	// Terminal outcomes are recorded once; repeats are rejected
	assert.False(t, m.Complete("meter-001", false))
	assert.False(t, m.Cancel("meter-003"))
	assert.False(t, m.Complete("meter-999", true))

	stats := m.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Cancelled)

	// Completed session is gone; further chunk requests fail
	_, err = m.GetChunk(ctx, "meter-001", "2.1.0", 1)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestFaultInjectorCorruptsChunks(t *testing.T) {
	store := newTestStore()
	m := NewManager(store, 0)
	m.SetFaultInjector(NewBitFlipInjector(1.0, 42))
	ctx := context.Background()

	_, err := m.Initiate(ctx, "meter-001", "2.1.0")
	require.NoError(t, err)

	chunk, err := m.GetChunk(ctx, "meter-001", "2.1.0", 0)
	require.NoError(t, err)

	pristine := store.images["2.1.0"][:256]
	assert.False(t, bytes.Equal(pristine, chunk), "injector must flip a bit")

	// The stored image itself must remain untouched
	assert.Equal(t, bytes.Repeat([]byte{0xA5}, 256), store.images["2.1.0"][:256])
}
