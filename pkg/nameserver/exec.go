package nameserver

import (
	"context"
	"os/exec"
	"strings"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/wire"
)

// handleExec fetches the file content and runs each non-blank line through
// the platform shell on the name server host, returning the combined
// output. Disabled unless explicitly enabled in configuration.
func (s *Server) handleExec(ctx context.Context, msg *wire.Message) *wire.Message {
	if !s.cfg.EnableExec {
		return msg.Fail(wire.StatusInvalidCommand, "exec is disabled on this server")
	}
	view, ok := s.registry.GetFile(msg.Filename)
	if !ok {
		return msg.Fail(wire.StatusFileNotFound, msg.Filename+" not found")
	}
	if view.AccessFor(msg.Username) < AccessWrite {
		return msg.Fail(wire.StatusAccessDenied, "exec requires write access to "+msg.Filename)
	}

	content, ok := s.fetchContent(ctx, view)
	if !ok {
		return msg.Fail(wire.StatusConnectionFailed, "no reachable storage server for "+msg.Filename)
	}

	var out strings.Builder
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
		output, err := cmd.CombinedOutput()
		out.Write(output)
		if err != nil {
			out.WriteString("error: " + err.Error() + "\n")
			logger.Warn("exec line failed", "filename", msg.Filename, "error", err)
		}
		if out.Len() > wire.MaxDataLen {
			break
		}
	}

	result := out.String()
	if len(result) > wire.MaxDataLen {
		result = result[:wire.MaxDataLen]
	}
	s.registry.Touch(msg.Filename, msg.Username)
	return msg.Reply(wire.StatusOK, result)
}

// fetchContent reads the file from the primary's control endpoint, falling
// back to the replica.
func (s *Server) fetchContent(ctx context.Context, view FileView) (string, bool) {
	req := &wire.Message{Op: wire.OpRead, Username: internalUser, Filename: view.Filename, Sentence: -1}
	if view.HasPrimary {
		if reply, err := wire.Exchange(ctx, view.Primary.ControlAddr(), req, createTimeout); err == nil && reply.Status == wire.StatusOK {
			return reply.Data, true
		}
	}
	if view.HasReplica {
		if reply, err := wire.Exchange(ctx, view.Replica.ControlAddr(), req, createTimeout); err == nil && reply.Status == wire.StatusOK {
			return reply.Data, true
		}
	}
	return "", false
}
