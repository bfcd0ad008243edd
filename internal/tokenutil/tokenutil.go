// Package tokenutil estimates and enforces token budgets for conversation
// text sent to model providers, using cl100k_base where available and
// falling back to a word/rune heuristic otherwise.
package tokenutil

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

var encoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		encoding = enc
	}
}

// CountTokens returns the exact cl100k_base token count when the encoding
// loaded successfully, else falls back to EstimateFast.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast approximates a token count without an encoder: the larger
// of rune-count/4 and the word count, since short technical tokens
// (identifiers, punctuation) undercount under a pure rune heuristic.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	byRunes := len([]rune(trimmed)) / 4
	if words > byRunes {
		return words
	}
	return byRunes
}

// TruncateToTokens trims text to at most maxTokens tokens, appending "..."
// when truncation occurred. maxTokens <= 0 is a no-op.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if CountTokens(text) <= maxTokens {
		return text
	}

	if encoding != nil {
		ids := encoding.Encode(text, nil, nil)
		if len(ids) <= maxTokens {
			return text
		}
		truncated := encoding.Decode(ids[:maxTokens])
		return truncated + "..."
	}

	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ") + "..."
}
