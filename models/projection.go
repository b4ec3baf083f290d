package models

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
)

const (
	projWeightTensor = "tok_proj.weight"
	projBiasTensor   = "tok_proj.bias"
)

// TokenProjection is the learnable linear layer that maps a per-token hidden
// state to a single scalar weight.
type TokenProjection struct {
	Weight []float32 // [hiddenSize]
	Bias   []float32 // [1]
}

// NewTokenProjection creates a projection with Gaussian weights of standard
// deviation initRange and a zero bias, matching the backbone's initializer
// so warm starts from the same checkpoint family behave identically.
func NewTokenProjection(hiddenSize int, initRange float64, rng *rand.Rand) *TokenProjection {
	w := make([]float32, hiddenSize)
	for i := range w {
		w[i] = float32(rng.NormFloat64() * initRange)
	}
	return &TokenProjection{
		Weight: w,
		Bias:   []float32{0},
	}
}

// HiddenSize returns the expected hidden state dimensionality.
func (p *TokenProjection) HiddenSize() int {
	return len(p.Weight)
}

// Params returns the learnable parameter slices, aliased so an optimizer
// can update them in place.
func (p *TokenProjection) Params() [][]float32 {
	return [][]float32{p.Weight, p.Bias}
}

// Apply projects a single hidden state vector to a scalar.
func (p *TokenProjection) Apply(hidden []float32) float32 {
	sum := p.Bias[0]
	for i, w := range p.Weight {
		sum += w * hidden[i]
	}
	return sum
}

// safetensor metadata for one tensor entry.
type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Save writes the projection to a safetensors file with tensors
// "tok_proj.weight" (shape [1, hiddenSize]) and "tok_proj.bias" (shape [1]).
func (p *TokenProjection) Save(path string) error {
	weightBytes := len(p.Weight) * 4
	header := map[string]tensorMeta{
		projWeightTensor: {
			Dtype:       "F32",
			Shape:       []int{1, len(p.Weight)},
			DataOffsets: [2]int{0, weightBytes},
		},
		projBiasTensor: {
			Dtype:       "F32",
			Shape:       []int{1},
			DataOffsets: [2]int{weightBytes, weightBytes + 4},
		},
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("projection: failed to encode header: %w", err)
	}

	buf := make([]byte, 8+len(headerJSON)+weightBytes+4)
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(headerJSON)))
	copy(buf[8:], headerJSON)

	data := buf[8+len(headerJSON):]
	for i, w := range p.Weight {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(w))
	}
	binary.LittleEndian.PutUint32(data[weightBytes:], math.Float32bits(p.Bias[0]))

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("projection: %w", err)
	}
	return nil
}

// LoadProjection reads a safetensors file written by Save.
func LoadProjection(path string) (*TokenProjection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("projection: file too small: %d bytes", len(data))
	}

	// Parse safetensors header: 8-byte LE uint64 header length, then JSON.
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("projection: header length %d exceeds file size", headerLen)
	}

	var header map[string]tensorMeta
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("projection: failed to parse header: %w", err)
	}

	weight, err := readTensor(data, int(8+headerLen), header, projWeightTensor, 2)
	if err != nil {
		return nil, err
	}
	bias, err := readTensor(data, int(8+headerLen), header, projBiasTensor, 1)
	if err != nil {
		return nil, err
	}
	if len(bias) != 1 {
		return nil, fmt.Errorf("projection: expected scalar bias, got %d values", len(bias))
	}

	return &TokenProjection{
		Weight: weight,
		Bias:   bias,
	}, nil
}

// readTensor extracts one F32 tensor from the safetensors payload.
func readTensor(data []byte, dataStart int, header map[string]tensorMeta, name string, wantRank int) ([]float32, error) {
	meta, ok := header[name]
	if !ok {
		return nil, fmt.Errorf("projection: tensor %q not found in header", name)
	}
	if meta.Dtype != "F32" {
		return nil, fmt.Errorf("projection: tensor %q: expected dtype F32, got %s", name, meta.Dtype)
	}
	if len(meta.Shape) != wantRank {
		return nil, fmt.Errorf("projection: tensor %q: expected rank %d, got shape %v", name, wantRank, meta.Shape)
	}

	numFloats := 1
	for _, d := range meta.Shape {
		numFloats *= d
	}

	start := dataStart + meta.DataOffsets[0]
	end := dataStart + meta.DataOffsets[1]
	if end-start != numFloats*4 {
		return nil, fmt.Errorf("projection: tensor %q: data size %d doesn't match shape %v",
			name, end-start, meta.Shape)
	}
	if end > len(data) {
		return nil, fmt.Errorf("projection: tensor %q: data range [%d:%d] exceeds file size %d",
			name, start, end, len(data))
	}

	values := make([]float32, numFloats)
	for i := range values {
		bits := binary.LittleEndian.Uint32(data[start+i*4 : start+i*4+4])
		values[i] = math.Float32frombits(bits)
	}
	return values, nil
}
