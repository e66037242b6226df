package nameserver

import (
	"context"
	"strings"

	"github.com/scribefs/scribefs/pkg/wire"
)

type probeResult int

const (
	// probeExists: the server answered OK and returned content.
	probeExists probeResult = iota
	// probeStale: the server answered FILE_NOT_FOUND; the metadata is stale.
	probeStale
	// probeUnknown: transport failure; no conclusion about the file.
	probeUnknown
)

// probeFile checks whether the file still exists on its primary, falling
// back to the replica once when the primary is unreachable. An OK answer
// opportunistically refreshes the size counters on both the registry and
// the caller's snapshot.
func (s *Server) probeFile(ctx context.Context, view *FileView) probeResult {
	result, content := probeUnknown, ""
	if view.HasPrimary {
		result, content = s.probeOne(ctx, view.Primary, view.Filename)
	}
	if result == probeUnknown && view.HasReplica {
		result, content = s.probeOne(ctx, view.Replica, view.Filename)
	}
	if result == probeExists {
		size := int64(len(content))
		words := int64(len(strings.Fields(content)))
		s.registry.UpdateCounters(view.Filename, size, words, size)
		view.Size, view.WordCount, view.CharCount = size, words, size
	}
	return result
}

// probeOne issues a READ to the server's control endpoint under the probe
// timeout.
func (s *Server) probeOne(ctx context.Context, ep SSEndpoint, filename string) (probeResult, string) {
	req := &wire.Message{Op: wire.OpRead, Username: internalUser, Filename: filename, Sentence: -1}
	reply, err := wire.Exchange(ctx, ep.ControlAddr(), req, s.cfg.ProbeTimeout)
	if err != nil {
		return probeUnknown, ""
	}
	switch reply.Status {
	case wire.StatusOK:
		return probeExists, reply.Data
	case wire.StatusFileNotFound:
		return probeStale, ""
	default:
		return probeUnknown, ""
	}
}
