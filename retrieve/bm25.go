package retrieve

import (
	"fmt"
	"math"
	"strings"

	tilde "github.com/ielab/tilde-go"
	"github.com/ielab/tilde-go/tokenizer"
	"github.com/ielab/tilde-go/utils"
)

// SparseVector is a sparse term-index to value mapping.
type SparseVector map[int]float64

// BM25 implements the BM25 first-stage retriever that produces the candidate
// lists the TILDEv2 ranker re-orders.
type BM25 struct {
	Key        string
	On         []string
	Tokenizer  *tokenizer.TermTokenizer
	Documents  []tilde.Document
	Matrix     []SparseVector // Transposed: [term][doc] -> BM25 score component
	K1         float64        // Term frequency saturation parameter
	B          float64        // Length normalization parameter
	Epsilon    float64        // Smoothing term
	NDocuments int
	AvgDocLen  float64
	DocLengths []float64
	fitted     bool
}

// NewBM25 creates a new BM25 retriever over the given document fields.
func NewBM25(key string, on []string, k1, b, epsilon float64) *BM25 {
	return &BM25{
		Key:        key,
		On:         on,
		Tokenizer:  tokenizer.NewTermTokenizer(true),
		Documents:  make([]tilde.Document, 0),
		Matrix:     make([]SparseVector, 0),
		K1:         k1,
		B:          b,
		Epsilon:    epsilon,
		DocLengths: make([]float64, 0),
	}
}

// EncodeDocuments encodes documents into sparse term frequency vectors.
// The term vocabulary is fitted on the first call.
func (bm *BM25) EncodeDocuments(documents []tilde.Document) (map[string]tilde.DocumentEmbedding, error) {
	contents := make([]string, len(documents))
	for i, doc := range documents {
		contents[i] = bm.joinFields(doc)
	}

	if !bm.fitted {
		bm.Tokenizer.FitVocabulary(contents)
		bm.fitted = true
	}

	embeddings := make(map[string]tilde.DocumentEmbedding)
	for i, doc := range documents {
		tfVector := bm.Tokenizer.Transform(contents[i])
		embeddings[doc[bm.Key]] = SparseVector(tfVector)
	}

	return embeddings, nil
}

// EncodeQueries encodes queries into sparse term frequency vectors.
func (bm *BM25) EncodeQueries(queries []string) (map[string]tilde.QueryEmbedding, error) {
	if !bm.fitted {
		return nil, fmt.Errorf("must call EncodeDocuments first to fit vocabulary")
	}

	embeddings := make(map[string]tilde.QueryEmbedding)
	for _, query := range queries {
		embeddings[query] = SparseVector(bm.Tokenizer.Transform(query))
	}

	return embeddings, nil
}

// Add adds documents to the index and computes BM25 weights.
func (bm *BM25) Add(documentEmbeddings map[string]tilde.DocumentEmbedding) error {
	vocabSize := bm.Tokenizer.VocabularySize()

	if len(bm.Matrix) == 0 {
		bm.Matrix = make([]SparseVector, vocabSize)
		for i := range bm.Matrix {
			bm.Matrix[i] = make(SparseVector)
		}
	}

	startIdx := len(bm.Documents)
	for key, emb := range documentEmbeddings {
		docIdx := len(bm.Documents)
		bm.Documents = append(bm.Documents, tilde.Document{bm.Key: key})

		vec := emb.(SparseVector)

		var docLen float64
		for _, count := range vec {
			docLen += count
		}
		bm.DocLengths = append(bm.DocLengths, docLen)

		for termIdx, count := range vec {
			if termIdx < vocabSize {
				bm.Matrix[termIdx][docIdx] = count
			}
		}
	}

	bm.NDocuments = len(bm.Documents)

	var totalLen float64
	for _, length := range bm.DocLengths {
		totalLen += length
	}
	bm.AvgDocLen = totalLen / float64(bm.NDocuments)

	bm.applyBM25Transform(startIdx)

	return nil
}

// applyBM25Transform applies the BM25 formula to documents starting from
// startIdx.
func (bm *BM25) applyBM25Transform(startIdx int) {
	for termIdx := range bm.Matrix {
		df := len(bm.Matrix[termIdx]) // document frequency
		if df == 0 {
			continue
		}
		// IDF = log((N - df + 0.5) / (df + 0.5) + 1)
		idf := math.Log((float64(bm.NDocuments)-float64(df)+0.5)/(float64(df)+0.5) + 1)

		for docIdx := startIdx; docIdx < bm.NDocuments; docIdx++ {
			tf, exists := bm.Matrix[termIdx][docIdx]
			if !exists {
				continue
			}
			docLen := bm.DocLengths[docIdx]
			normFactor := bm.K1 * (1 - bm.B + bm.B*(docLen/bm.AvgDocLen))

			// score = (tf * (k1 + 1)) / (tf + normFactor) + epsilon, times IDF
			bm.Matrix[termIdx][docIdx] = ((tf*(bm.K1+1))/(tf+normFactor) + bm.Epsilon) * idf
		}
	}
}

// Search retrieves the top-k documents for each query. Results are aligned
// to the order of the queries slice, not to the embedding map's iteration
// order.
func (bm *BM25) Search(queries []string, queryEmbeddings map[string]tilde.QueryEmbedding, k int) ([][]tilde.SearchResult, error) {
	if k > bm.NDocuments {
		k = bm.NDocuments
	}

	results := make([][]tilde.SearchResult, 0, len(queries))

	for _, query := range queries {
		emb, ok := queryEmbeddings[query]
		if !ok {
			return nil, fmt.Errorf("no embedding for query %q", query)
		}
		queryVec := emb.(SparseVector)

		scores := make([]float64, bm.NDocuments)
		for termIdx, queryValue := range queryVec {
			if termIdx >= len(bm.Matrix) {
				continue
			}
			for docIdx, docValue := range bm.Matrix[termIdx] {
				scores[docIdx] += queryValue * docValue
			}
		}

		topIndices, topScores := utils.TopK(scores, k)

		queryResults := make([]tilde.SearchResult, 0, k)
		for i, idx := range topIndices {
			if topScores[i] > 0 {
				queryResults = append(queryResults, tilde.SearchResult{
					Document: bm.Documents[idx],
					Score:    topScores[i],
				})
			}
		}

		results = append(results, queryResults)
	}

	return results, nil
}

// joinFields joins the indexed document fields into one string.
func (bm *BM25) joinFields(doc tilde.Document) string {
	parts := make([]string, 0, len(bm.On))
	for _, field := range bm.On {
		if value, exists := doc[field]; exists {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " ")
}
