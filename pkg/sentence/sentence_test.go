package sentence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"empty", "", nil},
		{"single", "Hello world.", []string{"Hello world."}},
		{"multiple terminators", "One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"trailing fragment", "Done. And then", []string{"Done.", "And then"}},
		{"fragment only", "Hi", []string{"Hi"}},
		{"whitespace between", "A.   B.", []string{"A.", "B."}},
		{"terminator runs", "Wait...", []string{"Wait.", ".", "."}},
		{"whitespace only", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.content))
		})
	}
}

func TestJoinParseIdempotent(t *testing.T) {
	contents := []string{
		"Hello world. Second one! Third?",
		"Leading fragment",
		"A. B. C.",
	}
	for _, content := range contents {
		once := Join(Parse(content))
		twice := Join(Parse(once))
		assert.Equal(t, once, twice, "content %q", content)
	}
}

func TestEndsTerminated(t *testing.T) {
	assert.True(t, EndsTerminated(""))
	assert.True(t, EndsTerminated("Done."))
	assert.True(t, EndsTerminated("Done!  "))
	assert.True(t, EndsTerminated("Done?\n"))
	assert.False(t, EndsTerminated("Hi"))
	assert.False(t, EndsTerminated("Done. almost"))
}

func TestCountAndWords(t *testing.T) {
	assert.Equal(t, 0, Count(""))
	assert.Equal(t, 2, Count("One. Two."))
	assert.Equal(t, 2, Count("One. trailing"))
	assert.Equal(t, 4, Words("One. Two words here"))
}
