package tilde

// Document represents a searchable passage with key-value fields
type Document map[string]string

// QueryEmbedding represents the encoded form of a query
type QueryEmbedding interface{}

// DocumentEmbedding represents the encoded form of a document
type DocumentEmbedding interface{}

// SearchResult represents a single retrieved document with its score
type SearchResult struct {
	Document Document
	Score    float64
}

// Retriever is the interface for first-stage retrieval implementations
type Retriever interface {
	// EncodeDocuments encodes a list of documents into embeddings
	EncodeDocuments(documents []Document) (map[string]DocumentEmbedding, error)

	// EncodeQueries encodes a list of queries into embeddings
	EncodeQueries(queries []string) (map[string]QueryEmbedding, error)

	// Add adds document embeddings to the retriever's index
	Add(documentEmbeddings map[string]DocumentEmbedding) error

	// Search retrieves top-k documents per query, aligned to query order
	Search(queries []string, queryEmbeddings map[string]QueryEmbedding, k int) ([][]SearchResult, error)
}

// Ranker is the interface for second-stage re-ranking implementations
type Ranker interface {
	// EncodeDocuments encodes candidate documents into embeddings
	EncodeDocuments(documents []Document) (map[string]DocumentEmbedding, error)

	// Rank re-ranks candidate documents for each query
	Rank(
		queries []string,
		documents [][]Document,
		documentEmbeddings map[string]DocumentEmbedding,
		k int,
	) ([][]SearchResult, error)
}

// Expander is the interface for passage expansion implementations
type Expander interface {
	// Expand produces expansion terms for each passage
	Expand(passages []string, k int) ([][]string, error)
}
