package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/sentence"
	"github.com/scribefs/scribefs/pkg/wire"
)

// streamWordDelay paces the word-by-word stream.
const streamWordDelay = 100 * time.Millisecond

// streamStop is the sentinel data closing a stream.
const streamStop = "STOP"

func opReply(msg *wire.Message, data string, err error) *wire.Message {
	if err == nil {
		return msg.Reply(wire.StatusOK, data)
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return msg.Fail(opErr.Status, opErr.Msg)
	}
	return msg.Fail(wire.StatusServerError, err.Error())
}

// dispatchControl handles requests from the name server and peer storage
// servers. Replication opcodes apply the mutation without fanning it out
// again.
func (s *Server) dispatchControl(msg *wire.Message) *wire.Message {
	replicated := msg.IsReplication()
	switch msg.Op {
	case wire.OpCreate, wire.OpReplCreate:
		return opReply(msg, "", s.engine.Create(msg.Filename, replicated))
	case wire.OpDelete, wire.OpReplDelete:
		return opReply(msg, "", s.engine.Delete(msg.Filename, replicated))
	case wire.OpRead:
		content, err := s.engine.Read(msg.Filename)
		return opReply(msg, content, err)
	case wire.OpCreateFolder, wire.OpReplCreateFolder:
		return opReply(msg, "", s.engine.CreateFolder(msg.Filename, replicated))
	case wire.OpMove, wire.OpReplMove:
		newPath, err := s.engine.Move(msg.Filename, msg.Data, replicated)
		return opReply(msg, newPath, err)
	case wire.OpReplWrite:
		return opReply(msg, "", s.engine.ApplyReplicatedWrite(msg.Filename, msg.Data))
	case wire.OpSSAck:
		s.repl.SetPartner(msg.Data)
		return msg.Reply(wire.StatusOK, "")
	default:
		return msg.Fail(wire.StatusInvalidCommand, fmt.Sprintf("unsupported control operation %s", msg.Op))
	}
}

// dispatchClient handles end-user requests. STREAM is handled separately
// because it writes multiple frames.
func (s *Server) dispatchClient(c *clientConn, msg *wire.Message) *wire.Message {
	switch msg.Op {
	case wire.OpRead:
		content, err := s.engine.Read(msg.Filename)
		return opReply(msg, content, err)
	case wire.OpLockSentence:
		return opReply(msg, "", s.engine.Lock(msg.Filename, int(msg.Sentence), msg.Username, c.id))
	case wire.OpUnlockSentence:
		return opReply(msg, "", s.engine.Unlock(msg.Filename, int(msg.Sentence), msg.Username))
	case wire.OpWrite:
		content, err := s.engine.Write(msg.Filename, int(msg.Sentence), msg.Username, msg.Data)
		return opReply(msg, content, err)
	case wire.OpUndo:
		content, err := s.engine.Undo(msg.Filename)
		return opReply(msg, content, err)
	case wire.OpCheckpoint:
		return opReply(msg, "", s.engine.Checkpoint(msg.Filename, msg.Data))
	case wire.OpViewCheckpoint:
		content, err := s.engine.ViewCheckpoint(msg.Filename, msg.Data)
		return opReply(msg, content, err)
	case wire.OpRevert:
		content, err := s.engine.Revert(msg.Filename, msg.Data)
		return opReply(msg, content, err)
	case wire.OpListCheckpoints:
		tags, err := s.engine.ListCheckpoints(msg.Filename)
		return opReply(msg, strings.Join(tags, "\n"), err)
	default:
		return msg.Fail(wire.StatusInvalidCommand, fmt.Sprintf("unsupported client operation %s", msg.Op))
	}
}

// handleStream sends each word of the file as its own frame, paced apart,
// and closes with the STOP sentinel. Errors surface as a single failed
// frame. The returned status is the one request accounting records.
func (c *clientConn) handleStream(msg *wire.Message) wire.Status {
	content, err := c.server.engine.Read(msg.Filename)
	if err != nil {
		reply := opReply(msg, "", err)
		if werr := wire.WriteMessage(c.conn, reply); werr != nil {
			logger.Debug("stream error write failed", "error", werr)
		}
		return reply.Status
	}

	for _, word := range sentence.Tokens(content) {
		frame := &wire.Message{Op: wire.OpStream, Status: wire.StatusOK, Filename: msg.Filename, Data: word, Sentence: -1}
		if err := wire.WriteMessage(c.conn, frame); err != nil {
			return wire.StatusConnectionFailed
		}
		time.Sleep(streamWordDelay)
	}
	stop := &wire.Message{Op: wire.OpStream, Status: wire.StatusOK, Filename: msg.Filename, Data: streamStop, Sentence: -1}
	if err := wire.WriteMessage(c.conn, stop); err != nil {
		logger.Debug("stream stop write failed", "error", err)
		return wire.StatusConnectionFailed
	}
	return wire.StatusOK
}
