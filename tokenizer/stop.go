package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// englishStopwords is the standard English stopword list. Wh-question words
// (where, how, what, when, which, why, who) are deliberately absent: they
// carry signal in retrieval queries and must stay scoreable.
var englishStopwords = []string{
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves",
	"you", "you're", "you've", "you'll", "you'd", "your", "yours",
	"yourself", "yourselves", "he", "him", "his", "himself", "she",
	"she's", "her", "hers", "herself", "it", "it's", "its", "itself",
	"they", "them", "their", "theirs", "themselves", "whom", "this",
	"that", "that'll", "these", "those", "am", "is", "are", "was",
	"were", "be", "been", "being", "have", "has", "had", "having",
	"do", "does", "did", "doing", "a", "an", "the", "and", "but",
	"if", "or", "because", "as", "until", "while", "of", "at", "by",
	"for", "with", "about", "against", "between", "into", "through",
	"during", "before", "after", "above", "below", "to", "from",
	"up", "down", "in", "out", "on", "off", "over", "under", "again",
	"further", "then", "once", "here", "there", "all", "any", "both",
	"each", "few", "more", "most", "other", "some", "such", "no",
	"nor", "not", "only", "own", "same", "so", "than", "too", "very",
	"s", "t", "can", "will", "just", "don", "don't", "should",
	"should've", "now", "d", "ll", "m", "o", "re", "ve", "y", "ain",
	"aren", "aren't", "couldn", "couldn't", "didn", "didn't", "doesn",
	"doesn't", "hadn", "hadn't", "hasn", "hasn't", "haven", "haven't",
	"isn", "isn't", "ma", "mightn", "mightn't", "mustn", "mustn't",
	"needn", "needn't", "shan", "shan't", "shouldn", "shouldn't",
	"wasn", "wasn't", "weren", "weren't", "won", "won't", "wouldn",
	"wouldn't",
}

// StopIDs computes the set of vocabulary token ids excluded from relevance
// scoring: English stopwords that map to a single vocabulary entry, the
// plural suffix "##s", and every token containing a non-alphanumeric
// character (punctuation, special tokens, unused slots). Other subword
// continuations are kept. Deterministic given the vocabulary; call once at
// model construction.
func StopIDs(v *Vocab) map[int64]struct{} {
	stopIDs := make(map[int64]struct{})

	for _, word := range englishStopwords {
		if v.Contains(word) {
			stopIDs[v.ID(word)] = struct{}{}
		}
	}

	for id, token := range v.Tokens() {
		if token == "##s" {
			stopIDs[int64(id)] = struct{}{}
			continue
		}
		if strings.HasPrefix(token, "#") && len(token) > 1 {
			continue
		}
		if !isAlnum(token) {
			stopIDs[int64(id)] = struct{}{}
		}
	}

	return stopIDs
}

// isAlnum reports whether every rune of the token is a letter or digit.
// The token is NFD-normalized with combining marks dropped first, so
// accented vocabulary entries are not misclassified.
func isAlnum(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range norm.NFD.String(token) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
