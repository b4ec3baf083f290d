package models

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/ielab/tilde-go/tokenizer"
	"github.com/ielab/tilde-go/utils"
)

// TILDE is the bidirectional quasi-language-model scorer. It reads the
// MLM-head logits at the first output position as a relevance score per
// vocabulary entry and trains with a dual-side binary relevance loss over
// the non-stop vocabulary.
type TILDE struct {
	backbone    Backbone
	vocabSize   int
	stopIDs     map[int64]struct{}
	numValidTok int
	modelDir    string
}

// TILDEConfig holds configuration for the TILDE model.
type TILDEConfig struct {
	// Backbone must be an MLM export: OutputDim equals the vocabulary size.
	Backbone Backbone
	// Vocab is the WordPiece vocabulary; the stop-token set is derived from
	// it once at construction.
	Vocab *tokenizer.Vocab
	// ModelDir is the directory holding the backbone artifacts (weights,
	// config, tokenizer files). Save copies it. Explicit rather than a
	// process-wide cache location.
	ModelDir string
}

// NewTILDE creates a TILDE model.
func NewTILDE(config TILDEConfig) (*TILDE, error) {
	if config.Backbone == nil {
		return nil, fmt.Errorf("tilde: backbone is required")
	}
	if config.Vocab == nil {
		return nil, fmt.Errorf("tilde: vocabulary is required")
	}
	vocabSize := config.Vocab.Size()
	if config.Backbone.OutputDim() != vocabSize {
		return nil, fmt.Errorf("tilde: backbone output dim %d != vocabulary size %d",
			config.Backbone.OutputDim(), vocabSize)
	}

	stopIDs := tokenizer.StopIDs(config.Vocab)

	return &TILDE{
		backbone:    config.Backbone,
		vocabSize:   vocabSize,
		stopIDs:     stopIDs,
		numValidTok: vocabSize - len(stopIDs),
		modelDir:    config.ModelDir,
	}, nil
}

// VocabSize returns the vocabulary size V.
func (m *TILDE) VocabSize() int {
	return m.vocabSize
}

// NumValidTokens returns the number of vocabulary tokens outside the
// stop-token set.
func (m *TILDE) NumValidTokens() int {
	return m.numValidTok
}

// StopIDs returns the fixed stop-token id set of this model instance.
func (m *TILDE) StopIDs() map[int64]struct{} {
	return m.stopIDs
}

// Score returns the length-V logit vector for a single token sequence: the
// backbone's vocabulary logits at the first output position, no activation.
func (m *TILDE) Score(inputIDs, tokenTypeIDs, attentionMask []int64) ([]float32, error) {
	scores, err := m.ScoreBatch(
		[][]int64{inputIDs},
		[][]int64{tokenTypeIDs},
		[][]int64{attentionMask},
	)
	if err != nil {
		return nil, err
	}
	return scores[0], nil
}

// ScoreBatch returns one length-V logit vector per batch element.
func (m *TILDE) ScoreBatch(inputIDs, tokenTypeIDs, attentionMask [][]int64) ([][]float32, error) {
	out, err := m.backbone.Forward(inputIDs, tokenTypeIDs, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("tilde: %w", err)
	}

	scores := make([][]float32, len(out))
	for i := range out {
		scores[i] = out[i][0]
	}
	return scores, nil
}

// TrainBatch is the training batch contract for TILDE. Field order follows
// the data pipeline: passage tensors with their query-term labels, then
// query tensors with their passage-term labels. The negative label vectors
// are the complements of the positive ones; the loss derives negatives from
// the complement, but the fields are part of the batch layout.
type TrainBatch struct {
	PassageInputIDs      [][]int64
	PassageTokenTypeIDs  [][]int64
	PassageAttentionMask [][]int64
	PassageLabels        [][]int8
	PassageNegLabels     [][]int8
	QueryInputIDs        [][]int64
	QueryTokenTypeIDs    [][]int64
	QueryAttentionMask   [][]int64
	QueryLabels          [][]int8
	QueryNegLabels       [][]int8
}

// TrainingStep computes the bidirectional binary relevance loss for one
// batch: passages are scored against query-term labels and queries against
// passage-term labels. The accumulated log-loss over positive and negative
// vocabulary entries is normalized by (numValidTok * 2).
func (m *TILDE) TrainingStep(batch TrainBatch) (float64, error) {
	passageScores, err := m.ScoreBatch(
		batch.PassageInputIDs, batch.PassageTokenTypeIDs, batch.PassageAttentionMask)
	if err != nil {
		return 0, err
	}
	queryScores, err := m.ScoreBatch(
		batch.QueryInputIDs, batch.QueryTokenTypeIDs, batch.QueryAttentionMask)
	if err != nil {
		return 0, err
	}

	loss := sideLoss(passageScores, batch.PassageLabels) +
		sideLoss(queryScores, batch.QueryLabels)
	return loss / float64(m.numValidTok*2), nil
}

// sideLoss accumulates -sum(log p_pos) - sum(log(1 - p_neg)) for one side of
// the batch, using the fused log-sigmoid so near-0/near-1 probabilities never
// produce infinite loss. Empty positive or negative sets contribute zero.
func sideLoss(scores [][]float32, labels [][]int8) float64 {
	var loss float64
	for i, labelRow := range labels {
		for v, y := range labelRow {
			x := float64(scores[i][v])
			if y == 1 {
				loss -= utils.LogSigmoid(x)
			} else {
				loss -= utils.LogOneMinusSigmoid(x)
			}
		}
	}
	return loss
}

// ExpandTerms returns the ids of the k highest-scoring non-stop vocabulary
// entries for the given sequence, for passage expansion. k is clamped to the
// non-stop vocabulary size, so the result never contains stop tokens.
func (m *TILDE) ExpandTerms(inputIDs, tokenTypeIDs, attentionMask []int64, k int) ([]int64, error) {
	if k > m.numValidTok {
		k = m.numValidTok
	}
	scores, err := m.Score(inputIDs, tokenTypeIDs, attentionMask)
	if err != nil {
		return nil, err
	}

	ranked := make([]float64, len(scores))
	for v, s := range scores {
		if _, stop := m.stopIDs[int64(v)]; stop {
			ranked[v] = math.Inf(-1)
		} else {
			ranked[v] = float64(s)
		}
	}

	indices, _ := utils.TopK(ranked, k)
	ids := make([]int64, len(indices))
	for i, idx := range indices {
		ids[i] = int64(idx)
	}
	return ids, nil
}

// Save serializes the backbone artifacts to the given directory. Only the
// backbone is persisted; the loss machinery carries no state.
func (m *TILDE) Save(path string) error {
	if m.modelDir == "" {
		return fmt.Errorf("tilde: no model directory configured")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("tilde: %w", err)
	}
	if err := copyDir(m.modelDir, path); err != nil {
		return fmt.Errorf("tilde: %w", err)
	}
	return nil
}

// copyDir copies the contents of src into dst recursively.
func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
