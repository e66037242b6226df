// Package sentence implements the sentence model shared by the storage
// server and its tests: documents are sequences of sentences terminated by
// '.', '!', or '?', and edits insert whole phrases as single tokens at
// 1-based word positions.
package sentence

import (
	"strings"
)

// terminators are the sentence-ending runes. The terminator is part of the
// sentence it ends.
func isTerminator(r byte) bool {
	return r == '.' || r == '!' || r == '?'
}

// Parse splits content into sentences. Each sentence keeps its terminator
// and is trimmed of surrounding whitespace. A trailing fragment without a
// terminator is the final sentence. Empty content yields no sentences.
func Parse(content string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(content); i++ {
		if isTerminator(content[i]) {
			s := strings.TrimSpace(content[start : i+1])
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if start < len(content) {
		if s := strings.TrimSpace(content[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Join rebuilds document content from sentences, separated by single
// spaces. Join(Parse(x)) is idempotent up to whitespace normalization.
func Join(sentences []string) string {
	return strings.Join(sentences, " ")
}

// Count returns the number of sentences in content.
func Count(content string) int {
	return len(Parse(content))
}

// EndsTerminated reports whether content, ignoring trailing whitespace,
// ends with a sentence terminator. Empty content counts as terminated so
// that the first sentence of a new file can be locked.
func EndsTerminated(content string) bool {
	trimmed := strings.TrimRight(content, " \t\n\r")
	if trimmed == "" {
		return true
	}
	return isTerminator(trimmed[len(trimmed)-1])
}

// Tokens splits a sentence into its whitespace-delimited word tokens.
func Tokens(s string) []string {
	return strings.Fields(s)
}

// Words counts the whitespace-delimited words in content.
func Words(content string) int {
	return len(strings.Fields(content))
}
