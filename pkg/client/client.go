// Package client implements the interactive driver: one long-lived name
// server connection for control operations and short-lived storage server
// connections for each data-path phase.
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/scribefs/scribefs/pkg/config"
	"github.com/scribefs/scribefs/pkg/wire"
)

// Client holds the driver's session state.
type Client struct {
	username string
	nsConn   net.Conn
	timeout  time.Duration
}

// Dial connects to the name server and registers the username.
func Dial(cfg config.ClientConfig) (*Client, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("username required")
	}
	conn, err := net.Dial("tcp", cfg.NameServerAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to name server %s: %w", cfg.NameServerAddr, err)
	}
	c := &Client{username: cfg.Username, nsConn: conn, timeout: cfg.RequestTimeout}

	reply, err := c.nsExchange(&wire.Message{Op: wire.OpRegisterClient, Username: cfg.Username, Sentence: -1})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("register with name server: %w", err)
	}
	if reply.Status != wire.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("registration rejected: %s", reply.Status)
	}
	return c, nil
}

// Username returns the registered identity.
func (c *Client) Username() string {
	return c.username
}

// Close drops the name server connection.
func (c *Client) Close() error {
	return c.nsConn.Close()
}

// nsExchange performs one request/reply round trip on the persistent name
// server connection.
func (c *Client) nsExchange(req *wire.Message) (*wire.Message, error) {
	if c.timeout > 0 {
		if err := c.nsConn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
		defer c.nsConn.SetDeadline(time.Time{})
	}
	if err := wire.WriteMessage(c.nsConn, req); err != nil {
		return nil, fmt.Errorf("send to name server: %w", err)
	}
	reply, err := wire.ReadMessage(c.nsConn)
	if err != nil {
		return nil, fmt.Errorf("receive from name server: %w", err)
	}
	return reply, nil
}

// ssExchange opens a fresh storage server connection for one round trip.
func (c *Client) ssExchange(addr string, req *wire.Message) (*wire.Message, error) {
	return wire.Exchange(context.Background(), addr, req, c.timeout)
}

// OpError wraps a non-OK reply into the driver's user-visible error form.
type OpError struct {
	Context string
	Status  wire.Status
	Details string
}

func (e *OpError) Error() string {
	s := fmt.Sprintf("ERROR [%s]: %s", e.Context, e.Status)
	if e.Details != "" {
		s += "\nDetails: " + e.Details
	}
	return s
}

func replyErr(ctx string, reply *wire.Message) error {
	if reply.Status == wire.StatusOK {
		return nil
	}
	return &OpError{Context: ctx, Status: reply.Status, Details: reply.ErrorMsg}
}

func transportErr(ctx string, err error) error {
	return &OpError{Context: ctx, Status: wire.StatusConnectionFailed, Details: err.Error()}
}

// nsOp runs one name-server-only operation and returns the reply data.
func (c *Client) nsOp(ctxName string, req *wire.Message) (string, error) {
	req.Username = c.username
	reply, err := c.nsExchange(req)
	if err != nil {
		return "", transportErr(ctxName, err)
	}
	if err := replyErr(ctxName, reply); err != nil {
		return "", err
	}
	return reply.Data, nil
}

// locate asks the name server for the storage endpoint serving the
// operation on filename.
func (c *Client) locate(op wire.Op, filename string) (string, error) {
	ctxName := op.String()
	req := &wire.Message{Op: op, Username: c.username, Filename: filename, Sentence: -1}
	reply, err := c.nsExchange(req)
	if err != nil {
		return "", transportErr(ctxName, err)
	}
	if err := replyErr(ctxName, reply); err != nil {
		return "", err
	}
	return reply.Data, nil
}

// ssOp locates the storage server for filename and performs one exchange
// with it.
func (c *Client) ssOp(locateOp, ssOp wire.Op, filename string, mutate func(*wire.Message)) (string, error) {
	addr, err := c.locate(locateOp, filename)
	if err != nil {
		return "", err
	}
	req := &wire.Message{Op: ssOp, Username: c.username, Filename: filename, Sentence: -1}
	if mutate != nil {
		mutate(req)
	}
	ctxName := ssOp.String()
	reply, err := c.ssExchange(addr, req)
	if err != nil {
		return "", transportErr(ctxName, err)
	}
	if err := replyErr(ctxName, reply); err != nil {
		return "", err
	}
	return reply.Data, nil
}

// Stream locates the file and streams its words to out as they arrive,
// until the STOP sentinel.
func (c *Client) Stream(filename string, out io.Writer) error {
	addr, err := c.locate(wire.OpStream, filename)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return transportErr("STREAM", err)
	}
	defer conn.Close()

	req := &wire.Message{Op: wire.OpStream, Username: c.username, Filename: filename, Sentence: -1}
	if err := wire.WriteMessage(conn, req); err != nil {
		return transportErr("STREAM", err)
	}
	first := true
	for {
		frame, err := wire.ReadMessage(conn)
		if err != nil {
			return transportErr("STREAM", err)
		}
		if frame.Status != wire.StatusOK {
			return replyErr("STREAM", frame)
		}
		if frame.Data == "STOP" {
			fmt.Fprintln(out)
			return nil
		}
		if !first {
			fmt.Fprint(out, " ")
		}
		fmt.Fprint(out, frame.Data)
		first = false
	}
}

// Write runs the four-phase write transaction: locate, lock, write,
// unlock. Each storage phase uses its own connection. The lock is released
// even when the write itself fails.
func (c *Client) Write(filename string, sentenceIdx int, body string) (string, error) {
	addr, err := c.locate(wire.OpWrite, filename)
	if err != nil {
		return "", err
	}

	lock := &wire.Message{Op: wire.OpLockSentence, Username: c.username, Filename: filename, Sentence: int32(sentenceIdx)}
	reply, err := c.ssExchange(addr, lock)
	if err != nil {
		return "", transportErr("LOCK_SENTENCE", err)
	}
	if err := replyErr("LOCK_SENTENCE", reply); err != nil {
		return "", err
	}

	write := &wire.Message{Op: wire.OpWrite, Username: c.username, Filename: filename, Sentence: int32(sentenceIdx), Data: body}
	reply, werr := c.ssExchange(addr, write)

	// Best-effort unlock; an abandoned lock is cleaned up when the server
	// notices the broken session.
	unlock := &wire.Message{Op: wire.OpUnlockSentence, Username: c.username, Filename: filename, Sentence: int32(sentenceIdx)}
	_, _ = c.ssExchange(addr, unlock)

	if werr != nil {
		return "", transportErr("WRITE", werr)
	}
	if err := replyErr("WRITE", reply); err != nil {
		return "", err
	}
	return reply.Data, nil
}
