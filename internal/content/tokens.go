package content

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer counts model tokens in a piece of text.
type Tokenizer interface {
	Count(text string) int
}

// EstimateTokenizer approximates BPE token counts without a vocabulary.
type EstimateTokenizer struct{}

func (EstimateTokenizer) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	words := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			words++
		}
	}
	// average of char-based and word-based estimates
	charEst := n / 4
	wordEst := words * 4 / 3
	est := (charEst + wordEst) / 2
	if est < 1 {
		est = 1
	}
	return est
}

// DefaultTokenizer is used by TokenCount and the chunking helpers.
var DefaultTokenizer Tokenizer = EstimateTokenizer{}

// TokenCount returns DefaultTokenizer's count for text.
func TokenCount(text string) int {
	return DefaultTokenizer.Count(text)
}
