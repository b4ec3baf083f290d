package retrieve

import (
	"testing"

	tilde "github.com/ielab/tilde-go"
)

func testCorpus() []tilde.Document {
	return []tilde.Document{
		{"id": "d1", "text": "apple banana cherry"},
		{"id": "d2", "text": "apple apple apple"},
		{"id": "d3", "text": "durian elderberry fig"},
	}
}

func indexedBM25(t *testing.T) *BM25 {
	t.Helper()
	bm := NewBM25("id", []string{"text"}, 1.5, 0.75, 0)

	embeddings, err := bm.EncodeDocuments(testCorpus())
	if err != nil {
		t.Fatalf("EncodeDocuments failed: %v", err)
	}
	if err := bm.Add(embeddings); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return bm
}

func TestBM25EncodeQueriesBeforeFit(t *testing.T) {
	bm := NewBM25("id", []string{"text"}, 1.5, 0.75, 0)
	if _, err := bm.EncodeQueries([]string{"apple"}); err == nil {
		t.Error("expected error before vocabulary is fitted, got nil")
	}
}

func TestBM25Search(t *testing.T) {
	bm := indexedBM25(t)

	queries := []string{"apple"}
	queryEmbeddings, err := bm.EncodeQueries(queries)
	if err != nil {
		t.Fatalf("EncodeQueries failed: %v", err)
	}

	results, err := bm.Search(queries, queryEmbeddings, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected results for 1 query, got %d", len(results))
	}

	hits := results[0]
	if len(hits) != 2 {
		t.Fatalf("Expected 2 matching documents, got %d", len(hits))
	}
	// d2 repeats the term and is shorter, so it must outrank d1; d3 does not
	// contain it at all.
	if hits[0].Document["id"] != "d2" {
		t.Errorf("Expected d2 ranked first, got %s", hits[0].Document["id"])
	}
	if hits[1].Document["id"] != "d1" {
		t.Errorf("Expected d1 ranked second, got %s", hits[1].Document["id"])
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("Scores not descending: %f <= %f", hits[0].Score, hits[1].Score)
	}
}

func TestBM25SearchNoMatch(t *testing.T) {
	bm := indexedBM25(t)

	queries := []string{"grapefruit"}
	queryEmbeddings, err := bm.EncodeQueries(queries)
	if err != nil {
		t.Fatalf("EncodeQueries failed: %v", err)
	}
	results, err := bm.Search(queries, queryEmbeddings, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results[0]) != 0 {
		t.Errorf("Expected no hits for unseen term, got %d", len(results[0]))
	}
}

func TestBM25TopKClamp(t *testing.T) {
	bm := indexedBM25(t)

	queries := []string{"apple"}
	queryEmbeddings, err := bm.EncodeQueries(queries)
	if err != nil {
		t.Fatalf("EncodeQueries failed: %v", err)
	}
	results, err := bm.Search(queries, queryEmbeddings, 100)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results[0]) > bm.NDocuments {
		t.Errorf("Got %d hits, more than %d indexed documents", len(results[0]), bm.NDocuments)
	}
}

func TestBM25SearchAlignsResultsToQueryOrder(t *testing.T) {
	bm := NewBM25("id", []string{"text"}, 1.5, 0.75, 0)

	// Disjoint vocabularies, so each query can only hit its own document.
	docs := []tilde.Document{
		{"id": "zoo", "text": "zebra zebra zebra"},
		{"id": "sea", "text": "walrus walrus walrus"},
	}
	embeddings, err := bm.EncodeDocuments(docs)
	if err != nil {
		t.Fatalf("EncodeDocuments failed: %v", err)
	}
	if err := bm.Add(embeddings); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	queries := []string{"zebra", "walrus"}
	queryEmbeddings, err := bm.EncodeQueries(queries)
	if err != nil {
		t.Fatalf("EncodeQueries failed: %v", err)
	}

	// Map iteration order varies between runs; result row i must always hold
	// query i's hits.
	for trial := 0; trial < 50; trial++ {
		results, err := bm.Search(queries, queryEmbeddings, 1)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 result rows, got %d", len(results))
		}
		if got := results[0][0].Document["id"]; got != "zoo" {
			t.Fatalf("Trial %d: results[0] holds %s, expected zoo", trial, got)
		}
		if got := results[1][0].Document["id"]; got != "sea" {
			t.Fatalf("Trial %d: results[1] holds %s, expected sea", trial, got)
		}
	}
}

func TestBM25SearchDuplicateQueries(t *testing.T) {
	bm := indexedBM25(t)

	queries := []string{"apple", "apple"}
	queryEmbeddings, err := bm.EncodeQueries(queries)
	if err != nil {
		t.Fatalf("EncodeQueries failed: %v", err)
	}

	// Duplicate query texts share one embedding but still get one result row
	// each, keeping the output aligned with the input.
	results, err := bm.Search(queries, queryEmbeddings, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected one result row per query, got %d", len(results))
	}
	for i, hits := range results {
		if len(hits) != 1 || hits[0].Document["id"] != "d2" {
			t.Errorf("Row %d: expected d2, got %v", i, hits)
		}
	}
}

func TestBM25SearchMissingEmbedding(t *testing.T) {
	bm := indexedBM25(t)
	if _, err := bm.Search([]string{"apple"}, map[string]tilde.QueryEmbedding{}, 1); err == nil {
		t.Error("expected error for query without embedding, got nil")
	}
}
