package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer splits article text into lowercase terms and estimates LLM
// token counts for prompt budgeting.
type Tokenizer struct {
	stopwords map[string]struct{}
	keepStops bool
}

// NewTokenizer creates a new Tokenizer. With keepStopwords false, common
// English function words are dropped from Tokenize output.
func NewTokenizer(keepStopwords bool) *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		keepStops: keepStopwords,
	}
}

// Tokenize splits text into lowercase terms.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if utf8.RuneCountInString(word) < 2 {
			continue
		}
		if !t.keepStops {
			if _, isStop := t.stopwords[word]; isStop {
				continue
			}
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// CountTokens returns an approximate token count for LLM budget estimation.
// It takes the larger of ~1.3 tokens per word and ~4 bytes per token, so
// number-heavy and non-Latin text is not undercounted.
func (t *Tokenizer) CountTokens(text string) int {
	words := splitWords(text)
	if len(words) == 0 {
		return 0
	}
	byWords := int(float64(len(words)) * 1.3)
	byBytes := (len(text) + 3) / 4
	return max(byWords, byBytes)
}

// Truncate returns the longest word-aligned prefix of text that fits in
// budget tokens.
func (t *Tokenizer) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if t.CountTokens(text) <= budget {
		return text
	}

	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		for mid > 0 && mid < len(text) && !utf8.RuneStart(text[mid]) {
			mid--
		}
		if mid <= lo {
			break
		}
		if t.CountTokens(text[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	cut := text[:lo]
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		cut = cut[:i]
	}
	return cut
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
