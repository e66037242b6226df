package client

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribefs/scribefs/pkg/wire"
)

func TestRunExitsOnQuit(t *testing.T) {
	ss := startFakeSS(t, func(msg *wire.Message, conn net.Conn) {
		_ = wire.WriteMessage(conn, msg.Reply(wire.StatusOK, ""))
	})
	c := dialTestClient(t, fakeNameServer(t, ss.addr))

	var out bytes.Buffer
	require.NoError(t, c.Run(strings.NewReader("quit\n"), &out))
	assert.Contains(t, out.String(), "> ")
}

func TestRunUnknownCommand(t *testing.T) {
	ss := startFakeSS(t, func(msg *wire.Message, conn net.Conn) {
		_ = wire.WriteMessage(conn, msg.Reply(wire.StatusOK, ""))
	})
	c := dialTestClient(t, fakeNameServer(t, ss.addr))

	var out bytes.Buffer
	require.NoError(t, c.Run(strings.NewReader("frobnicate doc.txt\nexit\n"), &out))
	assert.Contains(t, out.String(), `unknown command "frobnicate"`)
}

func TestRunUsageErrors(t *testing.T) {
	ss := startFakeSS(t, func(msg *wire.Message, conn net.Conn) {
		_ = wire.WriteMessage(conn, msg.Reply(wire.StatusOK, ""))
	})
	c := dialTestClient(t, fakeNameServer(t, ss.addr))

	input := strings.Join([]string{
		"read",
		"write doc.txt notanumber",
		"addaccess -X doc.txt bob",
		"exit",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, c.Run(strings.NewReader(input), &out))
	assert.Contains(t, out.String(), "usage: read <file>")
	assert.Contains(t, out.String(), "usage: write <file> <sentence>")
	assert.Contains(t, out.String(), "usage: addaccess (-R|-W) <file> <user>")
}

func TestRunWriteCollectsBodyUntilBlankLine(t *testing.T) {
	bodyCh := make(chan string, 1)
	ss := startFakeSS(t, func(msg *wire.Message, conn net.Conn) {
		data := ""
		if msg.Op == wire.OpWrite {
			bodyCh <- msg.Data
			data = "Hello cruel world."
		}
		_ = wire.WriteMessage(conn, msg.Reply(wire.StatusOK, data))
	})
	c := dialTestClient(t, fakeNameServer(t, ss.addr))

	input := strings.Join([]string{
		"write doc.txt 0",
		"1 Hello world.",
		"2 cruel",
		"",
		"exit",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, c.Run(strings.NewReader(input), &out))
	assert.Equal(t, "1 Hello world.\n2 cruel", <-bodyCh)
	assert.Contains(t, out.String(), "Hello cruel world.")
}

func TestRunCaseInsensitiveVerbs(t *testing.T) {
	ss := startFakeSS(t, func(msg *wire.Message, conn net.Conn) {
		data := ""
		if msg.Op == wire.OpRead {
			data = "Content."
		}
		_ = wire.WriteMessage(conn, msg.Reply(wire.StatusOK, data))
	})
	c := dialTestClient(t, fakeNameServer(t, ss.addr))

	var out bytes.Buffer
	require.NoError(t, c.Run(strings.NewReader("READ doc.txt\nEXIT\n"), &out))
	assert.Contains(t, out.String(), "Content.")
}
