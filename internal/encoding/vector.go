// Package encoding implements the binary on-disk format for embedding vectors.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when vector bytes cannot be decoded
var ErrInvalidVector = errors.New("invalid vector data")

// EncodeVector converts a float32 vector to its stored byte form:
// a little-endian int32 length followed by the raw float32 values.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > math.MaxInt32 {
		return nil, fmt.Errorf("vector too large: %d elements", len(vector))
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf, uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeVector converts stored bytes back to a float32 vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	length := int(int32(binary.LittleEndian.Uint32(data)))
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if len(data) != 4+4*length {
		return nil, fmt.Errorf("%w: %d values declared, %d payload bytes", ErrInvalidVector, length, len(data)-4)
	}

	vector := make([]float32, length)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}

// ValidateVector checks that a vector has the expected dimensionality and
// contains no NaN or Inf components.
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) != expectedDim {
		return fmt.Errorf("%w: dimension %d, expected %d", ErrInvalidVector, len(vector), expectedDim)
	}
	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidVector, i)
		}
	}
	return nil
}
