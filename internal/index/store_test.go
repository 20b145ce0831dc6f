package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/blob"
)

// memBlobs is an in-memory stand-in for the object store.
type memBlobs struct {
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	embedder := newStubEmbedder()
	blobs := newMemBlobs()
	store := NewStore(blobs)

	built, err := Build(ctx, []string{"intro", "methods"}, embedder)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "owner-1", "doc-1", built))

	loaded, err := store.Load(ctx, "owner-1", "doc-1", embedder)
	require.NoError(t, err)
	assert.Equal(t, built.Len(), loaded.Len())

	hits, err := loaded.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "intro", hits[0].Text)
}

func TestStoreLoadMissingIndex(t *testing.T) {
	store := NewStore(newMemBlobs())
	_, err := store.Load(context.Background(), "owner-1", "doc-1", newStubEmbedder())
	assert.ErrorIs(t, err, ErrNotFound)
}

// Two documents with the same filename must never share index keys: keys
// derive from the document id.
func TestKeysDistinctForSameFilename(t *testing.T) {
	ctx := context.Background()
	embedder := newStubEmbedder()
	blobs := newMemBlobs()
	store := NewStore(blobs)

	first, err := Build(ctx, []string{"intro"}, embedder)
	require.NoError(t, err)
	second, err := Build(ctx, []string{"results"}, embedder)
	require.NoError(t, err)

	// Both documents were uploaded as "report.pdf" by the same owner.
	require.NoError(t, store.Save(ctx, "owner-1", "doc-a", first))
	require.NoError(t, store.Save(ctx, "owner-1", "doc-b", second))

	loadedA, err := store.Load(ctx, "owner-1", "doc-a", embedder)
	require.NoError(t, err)
	loadedB, err := store.Load(ctx, "owner-1", "doc-b", embedder)
	require.NoError(t, err)

	hitsA, err := loadedA.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	hitsB, err := loadedB.Search([]float32{1, 0}, 1)
	require.NoError(t, err)

	assert.Equal(t, "intro", hitsA[0].Text)
	assert.Equal(t, "results", hitsB[0].Text)

	structureA, _ := Keys("owner-1", "doc-a")
	structureB, _ := Keys("owner-1", "doc-b")
	assert.NotEqual(t, structureA, structureB)
}
