// Package index defines the nearest-neighbour lookup used by retrieval and the
// vector encoding shared by its backends.
package index

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Hit is one neighbour: the dataset row it maps to and its distance to the query.
type Hit struct {
	Row      int
	Distance float32
}

// Index answers k-nearest-neighbour queries. Implementations return hits in
// ascending distance order with ties broken by row.
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Close() error
}

// SortHits orders hits by ascending distance, then by row.
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Row, b.Row)
	})
}

// EncodeVector packs a vector as little-endian float32 values.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// SquaredL2 is the squared Euclidean distance, the metric of a flat L2 index.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
