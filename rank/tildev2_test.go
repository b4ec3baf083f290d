package rank

import (
	"fmt"
	"testing"

	tilde "github.com/ielab/tilde-go"
	"github.com/ielab/tilde-go/models"
)

// mapEncoder tokenizes by table lookup.
type mapEncoder struct {
	grids map[string][]int64
}

func (e *mapEncoder) EncodeBatch(texts []string) ([][]int64, [][]int64, [][]int64, error) {
	inputIDs := make([][]int64, len(texts))
	typeIDs := make([][]int64, len(texts))
	masks := make([][]int64, len(texts))
	for i, text := range texts {
		ids, ok := e.grids[text]
		if !ok {
			return nil, nil, nil, fmt.Errorf("unknown text %q", text)
		}
		inputIDs[i] = ids
		typeIDs[i] = make([]int64, len(ids))
		mask := make([]int64, len(ids))
		for j := range mask {
			mask[j] = 1
		}
		masks[i] = mask
	}
	return inputIDs, typeIDs, masks, nil
}

// idBackbone maps each token id to a hidden state whose first component grows
// with the id, so larger ids get larger learned weights.
type idBackbone struct{}

func (idBackbone) Forward(inputIDs, tokenTypeIDs, attentionMask [][]int64) ([][][]float32, error) {
	out := make([][][]float32, len(inputIDs))
	for i, row := range inputIDs {
		out[i] = make([][]float32, len(row))
		for j, id := range row {
			out[i][j] = []float32{0.01 * float32(id)}
		}
	}
	return out, nil
}

func (idBackbone) OutputDim() int { return 1 }

func newTestRanker(t *testing.T, grids map[string][]int64) *TILDEv2Ranker {
	t.Helper()
	model, err := models.NewTILDEv2(models.TILDEv2Config{
		Backbone:   idBackbone{},
		Projection: &models.TokenProjection{Weight: []float32{1}, Bias: []float32{0}},
	})
	if err != nil {
		t.Fatalf("NewTILDEv2 failed: %v", err)
	}
	return NewTILDEv2Ranker("id", []string{"text"}, model, &mapEncoder{grids: grids}, 2)
}

func TestRankOrdersByExactMatch(t *testing.T) {
	// Query shares token 50 with matching and 60 with partial; none with miss.
	grids := map[string][]int64{
		"q":              {2, 50, 60, 3},
		"matching text":  {2, 50, 60, 3},
		"partial text":   {2, 60, 70, 3},
		"unrelated text": {2, 80, 90, 3},
	}
	documents := []tilde.Document{
		{"id": "miss", "text": "unrelated text"},
		{"id": "full", "text": "matching text"},
		{"id": "part", "text": "partial text"},
	}

	ranker := newTestRanker(t, grids)

	embeddings, err := ranker.EncodeDocuments(documents)
	if err != nil {
		t.Fatalf("EncodeDocuments failed: %v", err)
	}
	if len(embeddings) != 3 {
		t.Fatalf("Expected 3 embeddings, got %d", len(embeddings))
	}

	results, err := ranker.Rank([]string{"q"}, [][]tilde.Document{documents}, embeddings, 3)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	hits := results[0]
	if len(hits) != 3 {
		t.Fatalf("Expected 3 ranked hits, got %d", len(hits))
	}
	wantOrder := []string{"full", "part", "miss"}
	for i, want := range wantOrder {
		if hits[i].Document["id"] != want {
			t.Errorf("Rank %d: got %s, expected %s", i, hits[i].Document["id"], want)
		}
	}
	if hits[2].Score != 0 {
		t.Errorf("Unmatched document score = %f, expected 0", hits[2].Score)
	}
}

func TestRankTopKTruncates(t *testing.T) {
	grids := map[string][]int64{
		"q":  {2, 50, 3},
		"a1": {2, 50, 3},
		"a2": {2, 50, 3},
	}
	documents := []tilde.Document{
		{"id": "a1", "text": "a1"},
		{"id": "a2", "text": "a2"},
	}

	ranker := newTestRanker(t, grids)
	embeddings, err := ranker.EncodeDocuments(documents)
	if err != nil {
		t.Fatalf("EncodeDocuments failed: %v", err)
	}

	results, err := ranker.Rank([]string{"q"}, [][]tilde.Document{documents}, embeddings, 1)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(results[0]) != 1 {
		t.Errorf("Expected 1 hit with k=1, got %d", len(results[0]))
	}
}

func TestRankMismatchedCandidateLists(t *testing.T) {
	ranker := newTestRanker(t, map[string][]int64{"q": {2, 3}})
	if _, err := ranker.Rank([]string{"q"}, nil, nil, 5); err == nil {
		t.Error("expected error for mismatched query/candidate counts, got nil")
	}
}

func TestRankMissingEmbedding(t *testing.T) {
	grids := map[string][]int64{"q": {2, 50, 3}}
	ranker := newTestRanker(t, grids)

	documents := [][]tilde.Document{{{"id": "ghost", "text": "ghost"}}}
	_, err := ranker.Rank([]string{"q"}, documents, map[string]tilde.DocumentEmbedding{}, 5)
	if err == nil {
		t.Error("expected error for missing document embedding, got nil")
	}
}
