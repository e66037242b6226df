package sentence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEdits(t *testing.T) {
	edits, err := ParseEdits("1 Hello world.\n2 cruel\n\n3 happy\n")
	require.NoError(t, err)
	assert.Equal(t, []Edit{
		{WordIndex: 1, Phrase: "Hello world."},
		{WordIndex: 2, Phrase: "cruel"},
		{WordIndex: 3, Phrase: "happy"},
	}, edits)
}

func TestParseEditsMalformed(t *testing.T) {
	_, err := ParseEdits("not-a-number hello")
	require.Error(t, err)

	// A bare index inserts nothing and is tolerated.
	edits, err := ParseEdits("3")
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestApplyInsertsPhraseAsOneToken(t *testing.T) {
	out, err := Edit{WordIndex: 2, Phrase: "cruel happy"}.Apply("Hello world.")
	require.NoError(t, err)
	assert.Equal(t, "Hello cruel happy world.", out)

	tokens := Tokens(out)
	assert.Len(t, tokens, 3, "phrase must count as one token")
}

func TestApplyAppendAtEnd(t *testing.T) {
	out, err := Edit{WordIndex: 3, Phrase: "again."}.Apply("Hello world")
	require.NoError(t, err)
	assert.Equal(t, "Hello world again.", out)
}

func TestApplyIndexOutOfRange(t *testing.T) {
	_, err := Edit{WordIndex: 4, Phrase: "x"}.Apply("Hello world.")
	require.Error(t, err)
	assert.EqualError(t, err, "word index out of range (1-3 allowed)")

	_, err = Edit{WordIndex: 0, Phrase: "x"}.Apply("Hello world.")
	require.Error(t, err)
}

func TestApplyAllObservesShiftedTokens(t *testing.T) {
	// Each line sees the token list as left by the previous line.
	edits := []Edit{
		{WordIndex: 2, Phrase: "cruel"},
		{WordIndex: 3, Phrase: "happy"},
	}
	out, err := ApplyAll("Hello world.", edits)
	require.NoError(t, err)
	assert.Equal(t, "Hello cruel happy world.", out)
}

func TestApplyAllAbortsOnFirstBadIndex(t *testing.T) {
	edits := []Edit{
		{WordIndex: 1, Phrase: "ok"},
		{WordIndex: 99, Phrase: "bad"},
	}
	_, err := ApplyAll("Hello.", edits)
	require.Error(t, err)
	var idxErr *IndexError
	require.ErrorAs(t, err, &idxErr)
	assert.Equal(t, 99, idxErr.Index)
}

func TestApplyToEmptySentence(t *testing.T) {
	out, err := Edit{WordIndex: 1, Phrase: "First."}.Apply("")
	require.NoError(t, err)
	assert.Equal(t, "First.", out)
}
