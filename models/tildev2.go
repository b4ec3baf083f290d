package models

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/ielab/tilde-go/utils"
)

// ProjectionFileName is the file the token projection is persisted under
// inside a TILDEv2 checkpoint directory.
const ProjectionFileName = "tok_proj.safetensors"

// defaultInitializerRange matches the BERT initializer std.
const defaultInitializerRange = 0.02

// Features is the encode contract for TILDEv2: all three tensor fields are
// required.
type Features struct {
	InputIDs      [][]int64
	AttentionMask [][]int64
	TokenTypeIDs  [][]int64
}

// validate reports the first missing required field, if any.
func (f Features) validate() error {
	switch {
	case f.InputIDs == nil:
		return fmt.Errorf("tildev2: encode features missing input_ids")
	case f.AttentionMask == nil:
		return fmt.Errorf("tildev2: encode features missing attention_mask")
	case f.TokenTypeIDs == nil:
		return fmt.Errorf("tildev2: encode features missing token_type_ids")
	}
	return nil
}

// TILDEv2 produces non-negative contextual weights per document token and
// scores query-document pairs by exact lexical match, weighted by the learned
// token importance. Query-side weights are fixed at 1; only the document side
// is trained.
type TILDEv2 struct {
	backbone       Backbone
	proj           *TokenProjection
	trainGroupSize int
	modelDir       string
}

// TILDEv2Config holds configuration for the TILDEv2 model.
type TILDEv2Config struct {
	// Backbone must be an encoder export: OutputDim equals the hidden size.
	Backbone Backbone
	// TrainGroupSize is the number of candidate documents per query during
	// training, with the positive at slot 0 of each group. Defaults to 8.
	TrainGroupSize int
	// Projection, when set, is used instead of a freshly initialized layer
	// (warm start from a checkpoint).
	Projection *TokenProjection
	// InitializerRange is the std of the Gaussian projection init. Defaults
	// to the backbone initializer range of 0.02.
	InitializerRange float64
	// Rand seeds the projection init; nil means time-seeded.
	Rand *rand.Rand
	// ModelDir is the backbone artifact directory, copied by Save.
	ModelDir string
}

// NewTILDEv2 creates a TILDEv2 model.
func NewTILDEv2(config TILDEv2Config) (*TILDEv2, error) {
	if config.Backbone == nil {
		return nil, fmt.Errorf("tildev2: backbone is required")
	}
	if config.TrainGroupSize <= 0 {
		config.TrainGroupSize = 8
	}

	proj := config.Projection
	if proj == nil {
		initRange := config.InitializerRange
		if initRange == 0 {
			initRange = defaultInitializerRange
		}
		rng := config.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		proj = NewTokenProjection(config.Backbone.OutputDim(), initRange, rng)
	}
	if proj.HiddenSize() != config.Backbone.OutputDim() {
		return nil, fmt.Errorf("tildev2: projection input dim %d != backbone output dim %d",
			proj.HiddenSize(), config.Backbone.OutputDim())
	}

	return &TILDEv2{
		backbone:       config.Backbone,
		proj:           proj,
		trainGroupSize: config.TrainGroupSize,
		modelDir:       config.ModelDir,
	}, nil
}

// TrainGroupSize returns the configured candidate group size.
func (m *TILDEv2) TrainGroupSize() int {
	return m.trainGroupSize
}

// Projection returns the learnable token projection.
func (m *TILDEv2) Projection() *TokenProjection {
	return m.proj
}

// Encode maps a batch of sequences to per-token non-negative weights:
// backbone hidden states, scalar projection, ReLU.
func (m *TILDEv2) Encode(features Features) ([][]float32, error) {
	if err := features.validate(); err != nil {
		return nil, err
	}

	hidden, err := m.backbone.Forward(features.InputIDs, features.TokenTypeIDs, features.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("tildev2: %w", err)
	}

	weights := make([][]float32, len(hidden))
	for i, seq := range hidden {
		weights[i] = make([]float32, len(seq))
		for j, h := range seq {
			weights[i][j] = utils.ReLU(m.proj.Apply(h))
		}
	}
	return weights, nil
}

// MaskSep returns a copy of the query attention mask with the last attended
// position of each row (the trailing separator token) zeroed, so the
// separator never contributes to interaction scores. The input mask is left
// untouched.
func (m *TILDEv2) MaskSep(qryAttentionMask [][]int64) [][]int64 {
	masked := make([][]int64, len(qryAttentionMask))
	for i, row := range qryAttentionMask {
		out := make([]int64, len(row))
		copy(out, row)

		var sum int64
		for _, v := range row {
			sum += v
		}
		if sum > 0 {
			out[sum-1] = 0
		}
		masked[i] = out
	}
	return masked
}

// ComputeTokScoreCartesian computes the (numQueries x numDocuments) score
// matrix over all query/document pairs. For each attended query position
// past the leading classification token, the score contribution is the
// maximum gated weight product over document positions whose token id
// exactly matches the query token id. The full gate is
// (qryPos x qryIdx x docPos x docIdx); its memory-bound cost is borne here
// as the loop nest.
func (m *TILDEv2) ComputeTokScoreCartesian(
	docWeights [][]float32, docIDs [][]int64,
	qryWeights [][]float32, qryIDs [][]int64,
	qryAttentionMask [][]int64,
) [][]float32 {
	numQry := len(qryIDs)
	numDoc := len(docIDs)

	scores := make([][]float32, numQry)
	for q := 0; q < numQry; q++ {
		scores[q] = make([]float32, numDoc)
		for d := 0; d < numDoc; d++ {
			var total float32
			// Position 0 is the classification token, never scored.
			for lq := 1; lq < len(qryIDs[q]); lq++ {
				if qryAttentionMask[q][lq] == 0 {
					continue
				}
				var best float32
				for ld := 0; ld < len(docIDs[d]); ld++ {
					if docIDs[d][ld] != qryIDs[q][lq] {
						continue
					}
					if v := qryWeights[q][lq] * docWeights[d][ld]; v > best {
						best = v
					}
				}
				total += best
			}
			scores[q][d] = total
		}
	}
	return scores
}

// Forward encodes the document side, scores every query against every
// document, and computes the listwise cross-entropy ranking loss with labels
// i*trainGroupSize (the positive document occupying slot 0 of each group).
// Returns the loss and the score matrix flattened row-major.
func (m *TILDEv2) Forward(qryInput, docInput Features) (float64, []float32, error) {
	scores, _, _, err := m.forward(qryInput, docInput)
	if err != nil {
		return 0, nil, err
	}

	labels := m.rankingLabels(len(scores))
	loss := utils.CrossEntropy(scores, labels)
	return loss, flattenScores(scores), nil
}

// forward runs the shared encode-and-score path and additionally returns the
// raw document hidden states and pre-activation projections needed for the
// training step's gradients.
func (m *TILDEv2) forward(qryInput, docInput Features) ([][]float32, [][][]float32, [][]float32, error) {
	if err := docInput.validate(); err != nil {
		return nil, nil, nil, err
	}
	if err := qryInput.validate(); err != nil {
		return nil, nil, nil, err
	}

	hidden, err := m.backbone.Forward(docInput.InputIDs, docInput.TokenTypeIDs, docInput.AttentionMask)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tildev2: %w", err)
	}

	preact := make([][]float32, len(hidden))
	docWeights := make([][]float32, len(hidden))
	for i, seq := range hidden {
		preact[i] = make([]float32, len(seq))
		docWeights[i] = make([]float32, len(seq))
		for j, h := range seq {
			z := m.proj.Apply(h)
			preact[i][j] = z
			docWeights[i][j] = utils.ReLU(z)
		}
	}

	qryMask := m.MaskSep(qryInput.AttentionMask)
	qryWeights := onesLike(qryInput.InputIDs)

	scores := m.ComputeTokScoreCartesian(
		docWeights, docInput.InputIDs,
		qryWeights, qryInput.InputIDs,
		qryMask,
	)
	return scores, hidden, preact, nil
}

// ProjectionGrad holds the loss gradient with respect to the token
// projection parameters.
type ProjectionGrad struct {
	Weight []float32
	Bias   float32
}

// TrainingStep computes the ranking loss and its gradient with respect to
// the projection parameters, with the backbone held frozen. The gradient
// flows through the max-pooled exact-match positions only.
func (m *TILDEv2) TrainingStep(qryInput, docInput Features) (float64, *ProjectionGrad, error) {
	scores, hidden, preact, err := m.forward(qryInput, docInput)
	if err != nil {
		return 0, nil, err
	}

	numQry := len(scores)
	labels := m.rankingLabels(numQry)
	loss := utils.CrossEntropy(scores, labels)

	qryMask := m.MaskSep(qryInput.AttentionMask)
	qryIDs := qryInput.InputIDs
	docIDs := docInput.InputIDs

	// dLoss/dWeight[d][ld], sparse over max-pooled match positions.
	dW := make(map[[2]int]float32)
	for q := 0; q < numQry; q++ {
		probs := utils.Softmax(scores[q])
		for d := range scores[q] {
			dScore := float32(probs[d]) / float32(numQry)
			if d == labels[q] {
				dScore -= 1.0 / float32(numQry)
			}
			if dScore == 0 {
				continue
			}
			for lq := 1; lq < len(qryIDs[q]); lq++ {
				if qryMask[q][lq] == 0 {
					continue
				}
				argmax := -1
				var best float32
				for ld := 0; ld < len(docIDs[d]); ld++ {
					if docIDs[d][ld] != qryIDs[q][lq] {
						continue
					}
					w := utils.ReLU(preact[d][ld])
					if argmax == -1 || w > best {
						argmax = ld
						best = w
					}
				}
				if argmax >= 0 {
					dW[[2]int{d, argmax}] += dScore
				}
			}
		}
	}

	grad := &ProjectionGrad{Weight: make([]float32, m.proj.HiddenSize())}
	for pos, g := range dW {
		d, ld := pos[0], pos[1]
		if preact[d][ld] <= 0 {
			continue // ReLU gate closed
		}
		for h, v := range hidden[d][ld] {
			grad.Weight[h] += g * v
		}
		grad.Bias += g
	}

	return loss, grad, nil
}

// rankingLabels builds the listwise labels: query i's positive document sits
// at flat index i*trainGroupSize.
func (m *TILDEv2) rankingLabels(numQueries int) []int {
	labels := make([]int, numQueries)
	for i := range labels {
		labels[i] = i * m.trainGroupSize
	}
	return labels
}

// Save persists the model to a directory: the backbone artifacts (when a
// model directory is configured) and the projection layer.
func (m *TILDEv2) Save(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("tildev2: %w", err)
	}
	if m.modelDir != "" {
		if err := copyDir(m.modelDir, path); err != nil {
			return fmt.Errorf("tildev2: %w", err)
		}
	}
	if err := m.proj.Save(filepath.Join(path, ProjectionFileName)); err != nil {
		return fmt.Errorf("tildev2: %w", err)
	}
	return nil
}

// flattenScores flattens a score matrix row-major.
func flattenScores(scores [][]float32) []float32 {
	if len(scores) == 0 {
		return nil
	}
	flat := make([]float32, 0, len(scores)*len(scores[0]))
	for _, row := range scores {
		flat = append(flat, row...)
	}
	return flat
}

// onesLike returns a weight tensor of the same shape as ids with every
// position set to 1 (query-side weights are not learned).
func onesLike(ids [][]int64) [][]float32 {
	out := make([][]float32, len(ids))
	for i, row := range ids {
		out[i] = make([]float32, len(row))
		for j := range row {
			out[i][j] = 1
		}
	}
	return out
}
