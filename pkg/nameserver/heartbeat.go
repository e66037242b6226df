package nameserver

import (
	"context"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/wire"
)

// heartbeatLoop probes every storage server's control endpoint on a fixed
// interval and flips active flags on transition edges. A server coming back
// via heartbeat is not resynced; only the explicit re-registration path
// triggers resync.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkServers()
		}
	}
}

func (s *Server) checkServers() {
	for _, ep := range s.registry.Servers() {
		alive := wire.Probe(ep.ControlAddr(), s.cfg.ProbeTimeout)
		if !s.registry.SetSSActive(ep.ID, alive) {
			continue
		}
		if alive {
			logger.Info("storage server is back", "ss_id", ep.ID, "control", ep.ControlAddr())
		} else {
			logger.Warn("storage server went down", "ss_id", ep.ID, "control", ep.ControlAddr())
		}
	}
}
