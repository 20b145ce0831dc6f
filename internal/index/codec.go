package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// The serialized index is a pair of blobs mirroring how it is stored:
// a binary vector matrix (structure) and a JSON sidecar (metadata) holding
// the chunk text. Round-tripping is lossless for vectors and chunks.

var structureMagic = [4]byte{'D', 'C', 'I', 'X'}

const codecVersion = 1

// metadata is the JSON sidecar persisted next to the vector matrix.
type metadata struct {
	Version    int      `json:"version"`
	Dimension  int      `json:"dimension"`
	ChunkCount int      `json:"chunk_count"`
	Chunks     []string `json:"chunks"`
}

// Encode serializes the index into its structure and metadata blobs.
func Encode(x *Index) (structure, meta []byte, err error) {
	var buf bytes.Buffer
	buf.Write(structureMagic[:])

	header := []uint32{codecVersion, uint32(x.dimension), uint32(len(x.vectors))}
	for _, v := range header {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, nil, fmt.Errorf("write header: %w", err)
		}
	}
	for _, vector := range x.vectors {
		for _, f := range vector {
			if err := binary.Write(&buf, binary.LittleEndian, math.Float32bits(f)); err != nil {
				return nil, nil, fmt.Errorf("write vector: %w", err)
			}
		}
	}

	meta, err = json.Marshal(metadata{
		Version:    codecVersion,
		Dimension:  x.dimension,
		ChunkCount: len(x.chunks),
		Chunks:     x.chunks,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return buf.Bytes(), meta, nil
}

// Decode reconstructs an index from its blob pair. The embedder supplied at
// load time must produce the same dimension the index was built with;
// anything else fails with ErrDimensionMismatch rather than degrading.
func Decode(structure, meta []byte, embedder Embedder) (*Index, error) {
	var m metadata
	if err := json.Unmarshal(meta, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if m.Version != codecVersion {
		return nil, fmt.Errorf("unsupported index version %d", m.Version)
	}
	if len(m.Chunks) != m.ChunkCount {
		return nil, fmt.Errorf("metadata lists %d chunks but holds %d", m.ChunkCount, len(m.Chunks))
	}

	r := bytes.NewReader(structure)
	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != structureMagic {
		return nil, fmt.Errorf("structure blob is not an index artifact")
	}
	var version, dimension, count uint32
	for _, dst := range []*uint32{&version, &dimension, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}
	if int(version) != codecVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	if int(dimension) != m.Dimension || int(count) != m.ChunkCount {
		return nil, fmt.Errorf("structure and metadata blobs disagree")
	}
	if embedder.Dimension() != int(dimension) {
		return nil, fmt.Errorf("index built with dimension %d, embedder produces %d: %w",
			dimension, embedder.Dimension(), ErrDimensionMismatch)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vector := make([]float32, dimension)
		if err := binary.Read(r, binary.LittleEndian, vector); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors[i] = vector
	}

	return &Index{
		dimension: int(dimension),
		vectors:   vectors,
		chunks:    m.Chunks,
	}, nil
}
