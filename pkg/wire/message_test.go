package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Message{
		Op:        OpWrite,
		Flags:     FlagReplication | FlagAll,
		Status:    StatusSentenceLocked,
		Sentence:  7,
		WordIndex: 3,
		Username:  "alice",
		Filename:  "docs/report.txt",
		Data:      "1 Hello world.",
		ErrorMsg:  "sentence 7 is locked by bob",
	}

	payload, err := in.Encode()
	require.NoError(t, err)

	out, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRejectsOversizedFields(t *testing.T) {
	in := &Message{Op: OpRead, Username: strings.Repeat("x", MaxUsernameLen)}
	payload, err := in.Encode()
	require.NoError(t, err)

	// Bump the username length prefix past the cap.
	payload[12] = 0xff
	payload[13] = 0xff
	_, err = Decode(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")
}

func TestEncodeRejectsOversizedData(t *testing.T) {
	in := &Message{Op: OpWrite, Data: strings.Repeat("a", MaxDataLen+1)}
	_, err := in.Encode()
	require.Error(t, err)
}

func TestFramedReadWrite(t *testing.T) {
	var buf bytes.Buffer
	first := &Message{Op: OpCreate, Username: "alice", Filename: "a.txt", Sentence: -1}
	second := &Message{Op: OpRead, Status: StatusFileNotFound, ErrorMsg: "a.txt not found", Sentence: -1}

	require.NoError(t, WriteMessage(&buf, first))
	require.NoError(t, WriteMessage(&buf, second))

	got1, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, first, got1)

	got2, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, second, got2)

	_, err = ReadMessage(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadMessageRejectsHugeFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds cap")
}

func TestIsReplication(t *testing.T) {
	assert.True(t, (&Message{Op: OpReplWrite}).IsReplication())
	assert.True(t, (&Message{Op: OpWrite, Flags: FlagReplication}).IsReplication())
	assert.False(t, (&Message{Op: OpWrite}).IsReplication())
}

func TestOpAndStatusNames(t *testing.T) {
	assert.Equal(t, "LOCK_SENTENCE", OpLockSentence.String())
	assert.Equal(t, "REPL_CREATEFOLDER", OpReplCreateFolder.String())
	assert.Equal(t, "OP(200)", Op(200).String())
	assert.Equal(t, "SUCCESS", StatusOK.String())
	assert.Equal(t, "NO_UNDO", StatusNoUndo.String())
}
