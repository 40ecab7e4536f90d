package encoding

import (
	"math"
	"testing"
)

func TestEncodeDecodeVector(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{name: "simple vector", vector: []float32{1.0, 2.0, 3.0}},
		{name: "empty vector", vector: []float32{}},
		{name: "negative values", vector: []float32{-0.5, 0.25, -1e-7}},
		{name: "large vector", vector: make([]float32, 768)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeVector(tt.vector)
			if err != nil {
				t.Fatalf("EncodeVector() error = %v", err)
			}

			decoded, err := DecodeVector(data)
			if err != nil {
				t.Fatalf("DecodeVector() error = %v", err)
			}

			if len(decoded) != len(tt.vector) {
				t.Fatalf("decoded length = %d, want %d", len(decoded), len(tt.vector))
			}
			for i := range tt.vector {
				if decoded[i] != tt.vector[i] {
					t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], tt.vector[i])
				}
			}
		})
	}
}

func TestEncodeVectorNil(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("EncodeVector(nil) expected error, got nil")
	}
}

func TestDecodeVectorTruncated(t *testing.T) {
	data, err := EncodeVector([]float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("EncodeVector() error = %v", err)
	}

	if _, err := DecodeVector(data[:len(data)-3]); err == nil {
		t.Error("DecodeVector() on truncated data expected error, got nil")
	}
	if _, err := DecodeVector([]byte{0x01}); err == nil {
		t.Error("DecodeVector() on short data expected error, got nil")
	}
}

func TestDecodeVectorTrailingBytes(t *testing.T) {
	data, err := EncodeVector([]float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("EncodeVector() error = %v", err)
	}

	corrupt := append(data, 0xde, 0xad)
	if _, err := DecodeVector(corrupt); err == nil {
		t.Error("DecodeVector() with trailing bytes expected error, got nil")
	}
}

func TestValidateVector(t *testing.T) {
	if err := ValidateVector([]float32{1, 2, 3}, 3); err != nil {
		t.Errorf("ValidateVector() error = %v, want nil", err)
	}
	if err := ValidateVector([]float32{1, 2}, 3); err == nil {
		t.Error("ValidateVector() with wrong dimension expected error")
	}
	if err := ValidateVector([]float32{1, float32(math.NaN())}, 2); err == nil {
		t.Error("ValidateVector() with NaN expected error")
	}
	if err := ValidateVector([]float32{float32(math.Inf(1)), 0}, 2); err == nil {
		t.Error("ValidateVector() with Inf expected error")
	}
}
