package tokenizer

import (
	"strings"
	"unicode"
)

// TermTokenizer tokenizes text into lowercase word terms for sparse
// bag-of-words retrieval. Terms are split on anything that is not a letter
// or digit; stopwords are dropped before vocabulary fitting.
type TermTokenizer struct {
	Lowercase  bool
	StopWords  map[string]bool
	Vocabulary map[string]int
}

// NewTermTokenizer creates a new word-level tokenizer. When dropStopwords is
// true the standard English stopword list is applied.
func NewTermTokenizer(dropStopwords bool) *TermTokenizer {
	stop := make(map[string]bool)
	if dropStopwords {
		for _, w := range englishStopwords {
			stop[w] = true
		}
	}
	return &TermTokenizer{
		Lowercase:  true,
		StopWords:  stop,
		Vocabulary: make(map[string]int),
	}
}

// Tokenize converts text into term tokens
func (t *TermTokenizer) Tokenize(text string) []string {
	if t.Lowercase {
		text = strings.ToLower(text)
	}

	var tokens []string
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if t.StopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// FitVocabulary builds vocabulary from a list of texts
func (t *TermTokenizer) FitVocabulary(texts []string) {
	t.Vocabulary = make(map[string]int)
	idx := 0

	for _, text := range texts {
		for _, token := range t.Tokenize(text) {
			if _, exists := t.Vocabulary[token]; !exists {
				t.Vocabulary[token] = idx
				idx++
			}
		}
	}
}

// Transform converts text to sparse term counts by vocabulary index
func (t *TermTokenizer) Transform(text string) map[int]float64 {
	counts := make(map[int]float64)
	for _, token := range t.Tokenize(text) {
		if idx, exists := t.Vocabulary[token]; exists {
			counts[idx]++
		}
	}
	return counts
}

// VocabularySize returns the size of the fitted vocabulary
func (t *TermTokenizer) VocabularySize() int {
	return len(t.Vocabulary)
}
