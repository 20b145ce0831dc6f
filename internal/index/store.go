package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/bull/docchat/internal/blob"
)

// Blobs is the slice of the object store the index store needs.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Keys returns the object keys holding a document's index artifact.
// Keys derive from the document id, not the filename, so two same-named
// documents under one owner can never clobber each other's index.
func Keys(owner, documentID string) (structure, meta string) {
	prefix := fmt.Sprintf("%s/%s", owner, documentID)
	return prefix + "/index.bin", prefix + "/index.json"
}

// Store persists index artifacts in the object store.
type Store struct {
	blobs Blobs
}

// NewStore creates an index store over the given object store.
func NewStore(blobs Blobs) *Store {
	return &Store{blobs: blobs}
}

// Save serializes and writes both blobs. Overwriting an existing artifact is
// fine: rebuilds under queue redelivery produce the same index.
func (s *Store) Save(ctx context.Context, owner, documentID string, x *Index) error {
	structure, meta, err := Encode(x)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	structureKey, metaKey := Keys(owner, documentID)
	if err := s.blobs.Put(ctx, structureKey, structure, "application/octet-stream"); err != nil {
		return fmt.Errorf("store index structure: %w", err)
	}
	if err := s.blobs.Put(ctx, metaKey, meta, "application/json"); err != nil {
		return fmt.Errorf("store index metadata: %w", err)
	}
	return nil
}

// Load fetches and decodes a document's index. Returns ErrNotFound when the
// artifact does not exist, i.e. ingestion never completed.
func (s *Store) Load(ctx context.Context, owner, documentID string, embedder Embedder) (*Index, error) {
	structureKey, metaKey := Keys(owner, documentID)

	structure, err := s.blobs.Get(ctx, structureKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch index structure: %w", err)
	}
	meta, err := s.blobs.Get(ctx, metaKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch index metadata: %w", err)
	}

	x, err := Decode(structure, meta, embedder)
	if err != nil {
		return nil, fmt.Errorf("decode index %s/%s: %w", owner, documentID, err)
	}
	return x, nil
}
