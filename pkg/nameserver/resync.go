package nameserver

import (
	"context"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/wire"
)

const resyncTimeout = 3 * time.Second

// resyncPrimary pushes replica content back onto a returning primary for
// every file the primary owns that has a live replica. Each file is
// best-effort and independent; the replica may itself be stale if it was
// down during writes, which is accepted.
func (s *Server) resyncPrimary(ctx context.Context, ssID int) {
	for _, view := range s.registry.ListFiles() {
		if !view.HasPrimary || view.Primary.ID != ssID {
			continue
		}
		if !view.HasReplica || !view.Replica.Active {
			continue
		}
		go s.resyncFile(ctx, view)
	}
}

func (s *Server) resyncFile(ctx context.Context, view FileView) {
	read := &wire.Message{Op: wire.OpRead, Username: internalUser, Filename: view.Filename, Sentence: -1}
	reply, err := wire.Exchange(ctx, view.Replica.ControlAddr(), read, resyncTimeout)
	if err != nil {
		logger.Warn("resync read from replica failed", "filename", view.Filename, "replica", view.Replica.ControlAddr(), "error", err)
		return
	}
	if reply.Status != wire.StatusOK {
		logger.Warn("resync read from replica rejected", "filename", view.Filename, "status", reply.Status.String())
		return
	}

	push := &wire.Message{
		Op:       wire.OpReplWrite,
		Flags:    wire.FlagReplication,
		Username: internalUser,
		Filename: view.Filename,
		Data:     reply.Data,
		Sentence: -1,
	}
	if _, err := wire.Exchange(ctx, view.Primary.ControlAddr(), push, resyncTimeout); err != nil {
		logger.Warn("resync push to primary failed", "filename", view.Filename, "primary", view.Primary.ControlAddr(), "error", err)
		return
	}
	logger.Info("resynced file onto returning primary", "filename", view.Filename, "ss_id", view.Primary.ID)
}
