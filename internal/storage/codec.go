package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector converts a float64 slice to its little-endian binary form for
// BLOB/BYTEA storage.
func EncodeVector(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeVector decodes a little-endian float64 blob, verifying it carries
// exactly the expected number of dimensions.
func DecodeVector(data []byte, dimension int) ([]float64, error) {
	if len(data) != 8*dimension {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d for dimension %d",
			len(data), 8*dimension, dimension)
	}
	vec := make([]float64, dimension)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return vec, nil
}
