package expand

import (
	"fmt"
	"math"

	"github.com/ielab/tilde-go/models"
	"github.com/ielab/tilde-go/tokenizer"
	"github.com/ielab/tilde-go/utils"
)

// Encoder tokenizes texts into fixed-length id/type/mask grids.
type Encoder interface {
	EncodeBatch(texts []string) (inputIDs, tokenTypeIDs, attentionMasks [][]int64, err error)
}

// Expander produces expansion terms for passages by scoring the vocabulary
// with the TILDE model and keeping the top non-stop entries.
type Expander struct {
	Model     *models.TILDE
	Tokenizer Encoder
	Vocab     *tokenizer.Vocab
	BatchSize int
	Workers   int
}

// NewExpander creates an Expander.
func NewExpander(model *models.TILDE, tok Encoder, vocab *tokenizer.Vocab, batchSize, workers int) *Expander {
	if batchSize <= 0 {
		batchSize = 32
	}
	if workers <= 0 {
		workers = 1
	}
	return &Expander{
		Model:     model,
		Tokenizer: tok,
		Vocab:     vocab,
		BatchSize: batchSize,
		Workers:   workers,
	}
}

// ExpandIDs returns the top-k expansion term ids per passage. Passages are
// scored in parallel batches; results stay in input order. k is clamped to
// the non-stop vocabulary size, so no row ever contains a stop token.
func (e *Expander) ExpandIDs(passages []string, k int) ([][]int64, error) {
	stopIDs := e.Model.StopIDs()
	if k > e.Model.NumValidTokens() {
		k = e.Model.NumValidTokens()
	}

	return utils.BatchProcessParallel(passages, e.BatchSize, e.Workers, func(batch []string) ([][]int64, error) {
		inputIDs, tokenTypeIDs, attentionMasks, err := e.Tokenizer.EncodeBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("tokenization failed: %w", err)
		}

		scores, err := e.Model.ScoreBatch(inputIDs, tokenTypeIDs, attentionMasks)
		if err != nil {
			return nil, fmt.Errorf("scoring failed: %w", err)
		}

		out := make([][]int64, len(batch))
		for i, row := range scores {
			ranked := make([]float64, len(row))
			for v, s := range row {
				if _, stop := stopIDs[int64(v)]; stop {
					ranked[v] = math.Inf(-1)
				} else {
					ranked[v] = float64(s)
				}
			}
			indices, _ := utils.TopK(ranked, k)
			ids := make([]int64, len(indices))
			for j, idx := range indices {
				ids[j] = int64(idx)
			}
			out[i] = ids
		}
		return out, nil
	})
}

// Expand returns the top-k expansion terms per passage as token strings.
func (e *Expander) Expand(passages []string, k int) ([][]string, error) {
	ids, err := e.ExpandIDs(passages, k)
	if err != nil {
		return nil, err
	}

	terms := make([][]string, len(ids))
	for i, row := range ids {
		terms[i] = make([]string, len(row))
		for j, id := range row {
			terms[i][j] = e.Vocab.Token(id)
		}
	}
	return terms, nil
}
