package rag

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
)

// flatMagic identifies a flat index blob on disk.
var flatMagic = [4]byte{'H', 'M', 'D', 'X'}

// flatVersion is the only blob layout this package writes and reads.
const flatVersion uint32 = 1

// MaxFlatDim bounds the vector length of a flat index. Real embedding
// models stay far below it; a larger header value means a corrupt blob.
const MaxFlatDim = 1 << 16

// FlatIndex is an exact nearest-neighbour index using squared Euclidean (L2)
// distance over every stored vector. Ids are insertion positions.
//
// Blob layout (little-endian): magic[4] | version u32 | dim u32 | count u64 |
// count*dim float32.
type FlatIndex struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

// NewFlatIndex returns an empty index for vectors of length dim.
func NewFlatIndex(dim int) (*FlatIndex, error) {
	if dim <= 0 || dim > MaxFlatDim {
		return nil, fmt.Errorf("rag: flat index dimension must be within [1, %d], got %d", MaxFlatDim, dim)
	}
	return &FlatIndex{dim: dim}, nil
}

// Dim returns the vector dimension.
func (x *FlatIndex) Dim() int { return x.dim }

// Len returns the number of stored vectors.
func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Add appends vectors; their ids continue from the current length.
func (x *FlatIndex) Add(vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("rag: vector %d has dimension %d, index expects %d", i, len(v), x.dim)
		}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, v := range vectors {
		x.vectors = append(x.vectors, slices.Clone(v))
	}
	return nil
}

// Search returns the ids of the k nearest vectors by L2 distance.
func (x *FlatIndex) Search(_ context.Context, query []float32, k int) ([]int64, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("rag: query has dimension %d, index expects %d", len(query), x.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	type hit struct {
		id   int64
		dist float32
	}
	hits := make([]hit, len(x.vectors))
	for i, v := range x.vectors {
		hits[i] = hit{id: int64(i), dist: l2(query, v)}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		default:
			return 0
		}
	})

	if k > len(hits) {
		k = len(hits)
	}
	ids := make([]int64, k)
	for i := range k {
		ids[i] = hits[i].id
	}
	return ids, nil
}

// Close is a no-op; the index lives entirely in memory.
func (x *FlatIndex) Close() error { return nil }

// WriteFile persists the index to path.
func (x *FlatIndex) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rag: create index %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	x.mu.RLock()
	err = x.encode(w)
	x.mu.RUnlock()
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("rag: write index %s: %w", path, err)
	}
	return nil
}

func (x *FlatIndex) encode(w io.Writer) error {
	if _, err := w.Write(flatMagic[:]); err != nil {
		return err
	}
	header := []any{flatVersion, uint32(x.dim), uint64(len(x.vectors))}
	for _, h := range header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return err
		}
	}
	for _, v := range x.vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadFlatIndex loads an index previously written by WriteFile.
func ReadFlatIndex(path string) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rag: open index %s: %w", path, err)
	}
	defer f.Close()

	x, err := decodeFlat(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("rag: read index %s: %w", path, err)
	}
	return x, nil
}

func decodeFlat(r io.Reader) (*FlatIndex, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != flatMagic {
		return nil, errors.New("not a flat index blob")
	}

	var (
		version uint32
		dim     uint32
		count   uint64
	)
	for _, p := range []any{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, err
		}
	}
	if version != flatVersion {
		return nil, fmt.Errorf("unsupported blob version %d", version)
	}
	if dim == 0 || dim > MaxFlatDim {
		return nil, fmt.Errorf("invalid dimension %d (max %d)", dim, MaxFlatDim)
	}

	x := &FlatIndex{dim: int(dim), vectors: make([][]float32, 0, min(count, 1<<20))}
	for i := uint64(0); i < count; i++ {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		x.vectors = append(x.vectors, v)
	}
	return x, nil
}

func l2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
