package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// BERTTokenizer wraps a HuggingFace BERT tokenizer together with the raw
// WordPiece vocabulary. The vocabulary is needed for id-to-token mapping and
// stop-token computation, which the tokenizer bindings do not expose.
type BERTTokenizer struct {
	tokenizer *tokenizers.Tokenizer
	vocab     *Vocab
	maxLength int
}

// NewBERTTokenizer creates a new BERT tokenizer from a tokenizer.json file
// and its companion vocab.txt file.
func NewBERTTokenizer(tokenizerPath, vocabPath string, maxLength int) (*BERTTokenizer, error) {
	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		tk.Close()
		return nil, err
	}

	return &BERTTokenizer{
		tokenizer: tk,
		vocab:     vocab,
		maxLength: maxLength,
	}, nil
}

// Encode encodes a single text into input ids, token type ids, and an
// attention mask, each of length maxLength.
func (bt *BERTTokenizer) Encode(text string) ([]int64, []int64, []int64, error) {
	encoding := bt.tokenizer.EncodeWithOptions(text, true)

	inputIDs, attentionMask := fitToLength(encoding.IDs, bt.vocab.PadID, bt.vocab.SepID, bt.maxLength)

	// Single-segment input: all token type ids are zero.
	tokenTypeIDs := make([]int64, len(inputIDs))

	return inputIDs, tokenTypeIDs, attentionMask, nil
}

// fitToLength pads or truncates a tokenized sequence to exactly maxLength.
// Truncation keeps a trailing separator in the last slot, so the sequence
// still ends with [SEP] and separator masking downstream never strips a
// content token.
func fitToLength(ids []uint32, padID, sepID int64, maxLength int) ([]int64, []int64) {
	inputIDs := make([]int64, maxLength)
	attentionMask := make([]int64, maxLength)

	if len(ids) > maxLength {
		for i := 0; i < maxLength-1; i++ {
			inputIDs[i] = int64(ids[i])
		}
		inputIDs[maxLength-1] = sepID
		for i := range attentionMask {
			attentionMask[i] = 1
		}
		return inputIDs, attentionMask
	}

	for i, id := range ids {
		inputIDs[i] = int64(id)
		attentionMask[i] = 1
	}
	for i := len(ids); i < maxLength; i++ {
		inputIDs[i] = padID
	}
	return inputIDs, attentionMask
}

// EncodeBatch encodes multiple texts
func (bt *BERTTokenizer) EncodeBatch(texts []string) ([][]int64, [][]int64, [][]int64, error) {
	inputIDs := make([][]int64, len(texts))
	tokenTypeIDs := make([][]int64, len(texts))
	attentionMasks := make([][]int64, len(texts))

	for i, text := range texts {
		ids, typeIDs, mask, err := bt.Encode(text)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode text %d: %w", i, err)
		}
		inputIDs[i] = ids
		tokenTypeIDs[i] = typeIDs
		attentionMasks[i] = mask
	}

	return inputIDs, tokenTypeIDs, attentionMasks, nil
}

// Close releases tokenizer resources
func (bt *BERTTokenizer) Close() error {
	if bt.tokenizer != nil {
		bt.tokenizer.Close()
		bt.tokenizer = nil
	}
	return nil
}

// Vocab returns the underlying WordPiece vocabulary.
func (bt *BERTTokenizer) Vocab() *Vocab {
	return bt.vocab
}

// VocabularySize returns the vocabulary size
func (bt *BERTTokenizer) VocabularySize() int {
	return bt.vocab.Size()
}

// Decode decodes token IDs back to text
func (bt *BERTTokenizer) Decode(ids []uint32, skipSpecialTokens bool) (string, error) {
	text := bt.tokenizer.Decode(ids, skipSpecialTokens)
	return text, nil
}
