package storage

import (
	"context"
	"sync"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/metrics"
	"github.com/scribefs/scribefs/pkg/wire"
)

// Replicator fans mutations out to the current replication partner as a
// single fire-and-forget exchange per mutation: no queue, no retry.
// Failures are logged and counted, never surfaced to the client; a stale
// partner catches up through the name server's resync path.
type Replicator struct {
	mu      sync.RWMutex
	partner string
	timeout time.Duration
	metrics metrics.Recorder
}

// NewReplicator creates a replicator with no partner assigned. The metrics
// recorder may be nil.
func NewReplicator(timeout time.Duration, rec metrics.Recorder) *Replicator {
	return &Replicator{timeout: timeout, metrics: rec}
}

// SetPartner updates the partner's control address. Empty clears it.
func (r *Replicator) SetPartner(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partner != addr {
		logger.Info("replication partner changed", "partner", addr)
	}
	r.partner = addr
}

// Partner returns the current partner control address.
func (r *Replicator) Partner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.partner
}

// Replicate sends one mutation to the partner in the background. For
// REPL_MOVE, data carries the destination path; for REPL_WRITE, the full
// new content.
func (r *Replicator) Replicate(op wire.Op, filename, data string) {
	partner := r.Partner()
	if partner == "" {
		return
	}
	msg := &wire.Message{
		Op:       op,
		Flags:    wire.FlagReplication,
		Username: "SS",
		Filename: filename,
		Data:     data,
		Sentence: -1,
	}
	go func() {
		reply, err := wire.Exchange(context.Background(), partner, msg, r.timeout)
		if err == nil && reply.Status == wire.StatusOK {
			return
		}
		if r.metrics != nil {
			r.metrics.RecordReplicationFailure()
		}
		if err != nil {
			logger.Warn("replication failed", "op", op.String(), "filename", filename, "partner", partner, "error", err)
		} else {
			logger.Warn("replication rejected", "op", op.String(), "filename", filename, "partner", partner, "status", reply.Status.String())
		}
	}()
}
