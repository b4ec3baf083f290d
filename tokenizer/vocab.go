package tokenizer

import (
	"bufio"
	"fmt"
	"os"
)

// Vocab holds a WordPiece vocabulary loaded from a vocab.txt file.
// Token IDs are determined by line number (0-indexed).
type Vocab struct {
	tokenToID map[string]int64
	idToToken []string

	PadID  int64
	UnkID  int64
	ClsID  int64
	SepID  int64
	MaskID int64
}

// LoadVocab reads a vocab.txt file where each line is a token and the line
// number (0-indexed) is the token ID.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	var tokens []string
	tokenToID := make(map[string]int64, 32000)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tok := scanner.Text()
		tokenToID[tok] = int64(len(tokens))
		tokens = append(tokens, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read error: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocab: file is empty: %s", path)
	}

	v := &Vocab{
		tokenToID: tokenToID,
		idToToken: tokens,
	}

	specials := []struct {
		name string
		dest *int64
	}{
		{"[PAD]", &v.PadID},
		{"[UNK]", &v.UnkID},
		{"[CLS]", &v.ClsID},
		{"[SEP]", &v.SepID},
		{"[MASK]", &v.MaskID},
	}
	for _, s := range specials {
		id, ok := tokenToID[s.name]
		if !ok {
			return nil, fmt.Errorf("vocab: missing special token %s", s.name)
		}
		*s.dest = id
	}

	return v, nil
}

// ID returns the token ID for the given token, or the [UNK] ID if not found.
func (v *Vocab) ID(token string) int64 {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	return v.UnkID
}

// Contains reports whether the token is in the vocabulary.
func (v *Vocab) Contains(token string) bool {
	_, ok := v.tokenToID[token]
	return ok
}

// Token returns the token string for the given ID, or "[UNK]" if out of range.
func (v *Vocab) Token(id int64) string {
	if id < 0 || id >= int64(len(v.idToToken)) {
		return "[UNK]"
	}
	return v.idToToken[id]
}

// Size returns the number of tokens in the vocabulary.
func (v *Vocab) Size() int {
	return len(v.idToToken)
}

// Tokens returns all tokens in ID order. The returned slice is shared with
// the vocabulary and must not be modified.
func (v *Vocab) Tokens() []string {
	return v.idToToken
}
