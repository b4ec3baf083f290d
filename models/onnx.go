package models

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Backbone is the pretrained bidirectional encoder, treated as an opaque
// function from token sequences to per-token output vectors. An MLM export
// yields vocabulary logits (OutputDim = vocab size); an encoder export yields
// hidden states (OutputDim = hidden size).
type Backbone interface {
	// Forward runs the encoder over a batch. All three inputs are
	// batch x seqLen grids; the output is batch x seqLen x OutputDim.
	Forward(inputIDs, tokenTypeIDs, attentionMask [][]int64) ([][][]float32, error)

	// OutputDim returns the size of the per-token output vector.
	OutputDim() int
}

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXBackbone wraps an ONNX Runtime session for a BERT-style model.
type ONNXBackbone struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	outputDim  int64
}

// ONNXBackboneConfig holds configuration for the ONNX backbone.
type ONNXBackboneConfig struct {
	// ModelPath is the path to the exported .onnx file.
	ModelPath string
	// LibraryPath is the path to the ONNX Runtime shared library. Empty means
	// the runtime's default lookup.
	LibraryPath string
}

// NewONNXBackbone loads the ONNX model and creates an inference session.
// It validates the model's input and output tensor names and shapes.
func NewONNXBackbone(config ONNXBackboneConfig) (*ONNXBackbone, error) {
	if err := initORT(config.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	inputNames, err := validateInputs(inputs)
	if err != nil {
		return nil, err
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}
	outputName := outputs[0].Name
	dims := outputs[0].Dimensions
	if len(dims) != 3 {
		return nil, fmt.Errorf("onnx: expected 3D output tensor, got %v", dims)
	}
	outputDim := dims[2]

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		inputNames,
		[]string{outputName},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNXBackbone{
		session:    session,
		inputNames: inputNames,
		outputName: outputName,
		outputDim:  outputDim,
	}, nil
}

// validateInputs checks that the model has the expected BERT-style inputs
// and returns them in the canonical order.
func validateInputs(inputs []ort.InputOutputInfo) ([]string, error) {
	nameSet := make(map[string]bool, len(inputs))
	for _, inp := range inputs {
		nameSet[inp.Name] = true
	}
	required := []string{"input_ids", "token_type_ids", "attention_mask"}
	for _, name := range required {
		if !nameSet[name] {
			return nil, fmt.Errorf("onnx: model missing required input %q", name)
		}
	}
	return required, nil
}

// OutputDim returns the size of the per-token output vector.
func (b *ONNXBackbone) OutputDim() int {
	return int(b.outputDim)
}

// Forward runs a single inference call and reshapes the flat output tensor
// into batch x seqLen x OutputDim.
func (b *ONNXBackbone) Forward(inputIDs, tokenTypeIDs, attentionMask [][]int64) ([][][]float32, error) {
	batchSize := int64(len(inputIDs))
	if batchSize == 0 {
		return nil, fmt.Errorf("onnx: empty batch")
	}
	seqLen := int64(len(inputIDs[0]))

	flat, err := b.infer(
		flatten(inputIDs, seqLen),
		flatten(tokenTypeIDs, seqLen),
		flatten(attentionMask, seqLen),
		batchSize, seqLen,
	)
	if err != nil {
		return nil, err
	}

	dim := int(b.outputDim)
	out := make([][][]float32, batchSize)
	for i := 0; i < int(batchSize); i++ {
		out[i] = make([][]float32, seqLen)
		for j := 0; j < int(seqLen); j++ {
			start := (i*int(seqLen) + j) * dim
			out[i][j] = flat[start : start+dim : start+dim]
		}
	}
	return out, nil
}

// flatten packs a batch of equal-length rows into one flat slice.
func flatten(rows [][]int64, seqLen int64) []int64 {
	flat := make([]int64, int64(len(rows))*seqLen)
	for i, row := range rows {
		copy(flat[int64(i)*seqLen:], row)
	}
	return flat
}

// infer runs the session over flat [batchSize * seqLen] input grids and
// returns the raw output as a flat float32 slice.
func (b *ONNXBackbone) infer(inputIDs, tokenTypeIDs, attentionMask []int64, batchSize, seqLen int64) ([]float32, error) {
	shape := ort.NewShape(batchSize, seqLen)

	tIDs, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input_ids tensor: %w", err)
	}
	defer tIDs.Destroy()

	tTypes, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create token_type_ids tensor: %w", err)
	}
	defer tTypes.Destroy()

	tMask, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create attention_mask tensor: %w", err)
	}
	defer tMask.Destroy()

	outShape := ort.NewShape(batchSize, seqLen, b.outputDim)
	tOut, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	err = b.session.Run(
		[]ort.Value{tIDs, tTypes, tMask},
		[]ort.Value{tOut},
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before the tensor is destroyed.
	src := tOut.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

// Close releases the ONNX session resources.
func (b *ONNXBackbone) Close() error {
	if b.session != nil {
		err := b.session.Destroy()
		b.session = nil
		if err != nil {
			return fmt.Errorf("onnx: failed to destroy session: %w", err)
		}
	}
	return nil
}
