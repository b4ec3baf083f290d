package rank

import (
	"fmt"
	"strings"

	tilde "github.com/ielab/tilde-go"
	"github.com/ielab/tilde-go/models"
	"github.com/ielab/tilde-go/utils"
)

// Encoder tokenizes texts into fixed-length id/type/mask grids.
type Encoder interface {
	EncodeBatch(texts []string) (inputIDs, tokenTypeIDs, attentionMasks [][]int64, err error)
}

// TokenWeights is the embedding a TILDEv2 ranker stores per document: the
// token ids paired with their learned importance weights.
type TokenWeights struct {
	InputIDs []int64
	Weights  []float32
}

// TILDEv2Ranker re-ranks candidate documents by the exact-lexical-match
// interaction between query tokens and stored document token weights.
type TILDEv2Ranker struct {
	Key       string
	On        []string
	Model     *models.TILDEv2
	Tokenizer Encoder
	BatchSize int
}

// NewTILDEv2Ranker creates a new TILDEv2 ranker.
func NewTILDEv2Ranker(key string, on []string, model *models.TILDEv2, tok Encoder, batchSize int) *TILDEv2Ranker {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &TILDEv2Ranker{
		Key:       key,
		On:        on,
		Model:     model,
		Tokenizer: tok,
		BatchSize: batchSize,
	}
}

// EncodeDocuments encodes candidate documents into token weights, batched
// through the model.
func (r *TILDEv2Ranker) EncodeDocuments(documents []tilde.Document) (map[string]tilde.DocumentEmbedding, error) {
	contents := make([]string, len(documents))
	for i, doc := range documents {
		contents[i] = r.joinFields(doc)
	}

	encoded, err := utils.BatchProcess(contents, r.BatchSize, func(batch []string) ([]TokenWeights, error) {
		inputIDs, tokenTypeIDs, attentionMasks, err := r.Tokenizer.EncodeBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("tokenization failed: %w", err)
		}

		weights, err := r.Model.Encode(models.Features{
			InputIDs:      inputIDs,
			AttentionMask: attentionMasks,
			TokenTypeIDs:  tokenTypeIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding failed: %w", err)
		}

		out := make([]TokenWeights, len(batch))
		for i := range batch {
			out[i] = TokenWeights{InputIDs: inputIDs[i], Weights: weights[i]}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	embeddings := make(map[string]tilde.DocumentEmbedding, len(documents))
	for i, doc := range documents {
		embeddings[doc[r.Key]] = encoded[i]
	}
	return embeddings, nil
}

// Rank re-orders each query's candidate documents by their exact-match
// interaction score and returns the top-k.
func (r *TILDEv2Ranker) Rank(
	queries []string,
	documents [][]tilde.Document,
	documentEmbeddings map[string]tilde.DocumentEmbedding,
	k int,
) ([][]tilde.SearchResult, error) {
	if len(queries) != len(documents) {
		return nil, fmt.Errorf("got %d queries but %d candidate lists", len(queries), len(documents))
	}

	qryIDs, _, qryMasks, err := r.Tokenizer.EncodeBatch(queries)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}
	qryMasks = r.Model.MaskSep(qryMasks)

	results := make([][]tilde.SearchResult, len(queries))
	for qi := range queries {
		candidates := documents[qi]

		docIDs := make([][]int64, len(candidates))
		docWeights := make([][]float32, len(candidates))
		for di, doc := range candidates {
			emb, ok := documentEmbeddings[doc[r.Key]]
			if !ok {
				return nil, fmt.Errorf("no embedding for document %q", doc[r.Key])
			}
			tw := emb.(TokenWeights)
			docIDs[di] = tw.InputIDs
			docWeights[di] = tw.Weights
		}

		scores := r.Model.ComputeTokScoreCartesian(
			docWeights, docIDs,
			onesRow(qryIDs[qi]), [][]int64{qryIDs[qi]},
			[][]int64{qryMasks[qi]},
		)[0]

		ranked := make([]float64, len(scores))
		for i, s := range scores {
			ranked[i] = float64(s)
		}
		topIndices, topScores := utils.TopK(ranked, min(k, len(candidates)))

		queryResults := make([]tilde.SearchResult, 0, len(topIndices))
		for i, idx := range topIndices {
			queryResults = append(queryResults, tilde.SearchResult{
				Document: candidates[idx],
				Score:    topScores[i],
			})
		}
		results[qi] = queryResults
	}

	return results, nil
}

// joinFields joins the ranked document fields into one string.
func (r *TILDEv2Ranker) joinFields(doc tilde.Document) string {
	parts := make([]string, 0, len(r.On))
	for _, field := range r.On {
		if value, exists := doc[field]; exists {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " ")
}

// onesRow wraps a single query's uniform weights.
func onesRow(ids []int64) [][]float32 {
	row := make([]float32, len(ids))
	for i := range row {
		row[i] = 1
	}
	return [][]float32{row}
}
