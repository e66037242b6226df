package sentence

import (
	"fmt"
	"strconv"
	"strings"
)

// Edit is one line of a write payload: insert Phrase as a single token at
// the 1-based WordIndex of the target sentence's current token list.
type Edit struct {
	WordIndex int
	Phrase    string
}

// IndexError reports a word index outside the valid range for the
// sentence's current token count.
type IndexError struct {
	Index int
	Max   int // token count + 1, the last valid insertion point
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("word index out of range (1-%d allowed)", e.Max)
}

// ParseEdits parses a write payload: one edit per line, each of the form
// "<word_index> <phrase>". Blank lines and lines with an empty phrase are
// skipped, matching the tolerant behavior clients rely on.
func ParseEdits(data string) ([]Edit, error) {
	var edits []Edit
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idxStr, phrase, found := strings.Cut(line, " ")
		if !found {
			// A bare index with no phrase inserts nothing.
			if _, err := strconv.Atoi(line); err == nil {
				continue
			}
			return nil, fmt.Errorf("malformed edit line %q", line)
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, fmt.Errorf("malformed word index in %q", line)
		}
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		edits = append(edits, Edit{WordIndex: idx, Phrase: phrase})
	}
	return edits, nil
}

// Apply inserts the edit's phrase as one token into the sentence. The
// index is validated against the sentence's current token count; index
// tokenCount+1 appends. Returns the rebuilt sentence joined with single
// spaces.
func (e Edit) Apply(sentence string) (string, error) {
	tokens := Tokens(sentence)
	if e.WordIndex < 1 || e.WordIndex > len(tokens)+1 {
		return "", &IndexError{Index: e.WordIndex, Max: len(tokens) + 1}
	}

	pos := e.WordIndex - 1
	out := make([]string, 0, len(tokens)+1)
	out = append(out, tokens[:pos]...)
	out = append(out, e.Phrase)
	out = append(out, tokens[pos:]...)
	return strings.Join(out, " "), nil
}

// ApplyAll applies edits in order. Each edit observes the token list as
// left by the previous one. The first invalid index aborts the whole
// sequence.
func ApplyAll(sentence string, edits []Edit) (string, error) {
	for _, e := range edits {
		var err error
		sentence, err = e.Apply(sentence)
		if err != nil {
			return "", err
		}
	}
	return sentence, nil
}
