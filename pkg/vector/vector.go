// Package vector provides the scalar helpers used by vector search:
// cosine similarity and the binary encoding of float32 buffers as they
// are stored in embedding rows.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Cosine returns the cosine similarity between a and b in [-1, 1].
// Mismatched lengths are compared over the shorter prefix; a zero-magnitude
// vector yields 0 rather than NaN.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Encode serializes a float32 vector to a little-endian byte buffer,
// 4 bytes per component.
func Encode(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode deserializes a little-endian byte buffer back into a float32 vector.
func Decode(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector: buffer length %d is not a multiple of 4", len(buf))
	}

	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// Dim returns the number of components a byte buffer encodes.
func Dim(buf []byte) int {
	return len(buf) / 4
}
