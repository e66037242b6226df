package nameserver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/wire"
)

// createTimeout bounds the CREATE probe to each candidate primary.
const createTimeout = 3 * time.Second

func (s *Server) dispatch(ctx context.Context, c *connection, msg *wire.Message) *wire.Message {
	switch msg.Op {
	case wire.OpRegisterSS:
		return s.handleRegisterSS(ctx, c, msg)
	case wire.OpRegisterClient:
		return s.handleRegisterClient(c, msg)
	case wire.OpView:
		return s.handleView(ctx, msg)
	case wire.OpCreate:
		return s.handleCreate(ctx, msg)
	case wire.OpDelete:
		return s.handleDelete(ctx, msg)
	case wire.OpInfo:
		return s.handleInfo(msg)
	case wire.OpList:
		return s.handleList(msg)
	case wire.OpRecents:
		return s.handleRecents(msg)
	case wire.OpAddAccess:
		return s.handleAddAccess(msg)
	case wire.OpRemAccess:
		return s.handleRemAccess(msg)
	case wire.OpReqAccess:
		return s.handleReqAccess(msg)
	case wire.OpViewRequests:
		return s.handleViewRequests(msg)
	case wire.OpApprove, wire.OpDeny:
		return s.handleResolveRequest(msg)
	case wire.OpRead, wire.OpStream, wire.OpWrite, wire.OpUndo,
		wire.OpCheckpoint, wire.OpViewCheckpoint, wire.OpRevert, wire.OpListCheckpoints:
		return s.handleLocate(msg)
	case wire.OpCreateFolder:
		return s.handleCreateFolder(ctx, msg)
	case wire.OpMove:
		return s.handleMove(ctx, msg)
	case wire.OpViewFolder:
		return s.handleViewFolder(msg)
	case wire.OpExec:
		return s.handleExec(ctx, msg)
	default:
		return msg.Fail(wire.StatusInvalidCommand, fmt.Sprintf("unsupported operation %s", msg.Op))
	}
}

// handleRegisterSS registers a storage server. Data carries
// "<advertise_ip> <control_port> <client_port>"; an empty advertise IP
// falls back to the connection's source address. The reply Data is the
// assigned server id. Registration re-fans partner assignments to every
// active server, and reactivation of a previously-down server schedules a
// primary resync.
func (s *Server) handleRegisterSS(ctx context.Context, c *connection, msg *wire.Message) *wire.Message {
	fields := strings.Fields(msg.Data)
	if len(fields) != 3 {
		return msg.Fail(wire.StatusInvalidCommand, "expected: <advertise_ip> <control_port> <client_port>")
	}
	ip := fields[0]
	if ip == "" || ip == "-" {
		ip = c.remoteHost()
	}
	controlPort, err1 := strconv.Atoi(fields[1])
	clientPort, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || controlPort <= 0 || clientPort <= 0 {
		return msg.Fail(wire.StatusInvalidCommand, "invalid storage server ports")
	}

	ep, wasInactive, err := s.registry.RegisterSS(ip, controlPort, clientPort)
	if err != nil {
		return msg.Fail(wire.StatusServerError, err.Error())
	}
	logger.Info("storage server registered", "ss_id", ep.ID, "control", ep.ControlAddr(), "client", ep.ClientAddr(), "reactivated", wasInactive)

	go s.broadcastPartners(ctx)
	if wasInactive {
		go s.resyncPrimary(ctx, ep.ID)
	}
	return msg.Reply(wire.StatusOK, strconv.Itoa(ep.ID))
}

// broadcastPartners tells every active storage server who its replication
// partner is: the next active server in id order, wrapping around. A lone
// server receives an empty partner, clearing any previous assignment.
func (s *Server) broadcastPartners(ctx context.Context) {
	active := s.registry.ActiveServers()
	for i, ep := range active {
		partner := ""
		if len(active) > 1 {
			partner = active[(i+1)%len(active)].ControlAddr()
		}
		ack := &wire.Message{Op: wire.OpSSAck, Username: internalUser, Data: partner, Sentence: -1}
		if _, err := wire.Exchange(ctx, ep.ControlAddr(), ack, resyncTimeout); err != nil {
			logger.Warn("partner assignment failed", "ss_id", ep.ID, "error", err)
		}
	}
}

func (s *Server) handleRegisterClient(c *connection, msg *wire.Message) *wire.Message {
	if msg.Username == "" {
		return msg.Fail(wire.StatusInvalidCommand, "username required")
	}
	s.registry.RegisterClient(msg.Username, c.remoteHost())
	c.username = msg.Username
	logger.Info("client registered", "username", msg.Username, "ip", c.remoteHost())
	return msg.Reply(wire.StatusOK, "")
}

// handleView lists files. Without the all flag only files the requester can
// read are shown; files whose placements are all inactive are hidden; files
// whose primary reports not-found are purged mid-listing.
func (s *Server) handleView(ctx context.Context, msg *wire.Message) *wire.Message {
	all := msg.Flags&wire.FlagAll != 0
	long := msg.Flags&wire.FlagLong != 0

	var visible []FileView
	for _, view := range s.registry.ListFiles() {
		if !all && view.AccessFor(msg.Username) < AccessRead {
			continue
		}
		primaryUp := view.HasPrimary && view.Primary.Active
		replicaUp := view.HasReplica && view.Replica.Active
		if !primaryUp && !replicaUp {
			continue
		}
		if s.probeFile(ctx, &view) == probeStale {
			logger.Info("purging stale file metadata", "filename", view.Filename)
			s.registry.PurgeFile(view.Filename)
			continue
		}
		visible = append(visible, view)
	}

	if long {
		return msg.Reply(wire.StatusOK, renderLongListing(visible))
	}
	names := make([]string, len(visible))
	for i, v := range visible {
		names[i] = v.Filename
	}
	return msg.Reply(wire.StatusOK, strings.Join(names, "\n"))
}

// handleCreate places a new file: probe candidate primaries round-robin
// starting at fileCount mod active-count, adopt the first that accepts the
// local create, pick the next active server as replica, and only then
// commit metadata.
func (s *Server) handleCreate(ctx context.Context, msg *wire.Message) *wire.Message {
	if msg.Filename == "" || msg.Username == "" {
		return msg.Fail(wire.StatusInvalidCommand, "filename and username required")
	}
	if _, exists := s.registry.GetFile(msg.Filename); exists {
		return msg.Fail(wire.StatusFileExists, msg.Filename+" already exists")
	}
	active := s.registry.ActiveServers()
	if len(active) == 0 {
		return msg.Fail(wire.StatusSSNotFound, "no active storage servers")
	}

	start := s.registry.FileCount() % len(active)
	primaryPos := -1
	for i := 0; i < len(active); i++ {
		pos := (start + i) % len(active)
		candidate := active[pos]
		req := &wire.Message{Op: wire.OpCreate, Username: msg.Username, Filename: msg.Filename, Sentence: -1}
		reply, err := wire.Exchange(ctx, candidate.ControlAddr(), req, createTimeout)
		if err != nil {
			logger.Warn("create probe failed", "ss_id", candidate.ID, "filename", msg.Filename, "error", err)
			continue
		}
		if reply.Status == wire.StatusOK {
			primaryPos = pos
			break
		}
		logger.Warn("create rejected by storage server", "ss_id", candidate.ID, "filename", msg.Filename, "status", reply.Status.String())
	}
	if primaryPos < 0 {
		return msg.Fail(wire.StatusConnectionFailed, "no storage server accepted the file")
	}

	primary := active[primaryPos]
	var replica *SSEndpoint
	for i := 1; i < len(active); i++ {
		candidate := active[(primaryPos+i)%len(active)]
		if candidate.ID != primary.ID {
			replica = &candidate
			break
		}
	}

	if err := s.registry.CreateFile(msg.Filename, msg.Username, primary, replica); err != nil {
		return msg.Fail(wire.StatusServerError, err.Error())
	}
	logger.Info("file created", "filename", msg.Filename, "owner", msg.Username, "primary", primary.ID)
	return msg.Reply(wire.StatusOK, "stored on ss"+strconv.Itoa(primary.ID))
}

// handleDelete forwards the delete to the primary and purges metadata only
// on its confirmation. An unreachable primary aborts with metadata intact.
func (s *Server) handleDelete(ctx context.Context, msg *wire.Message) *wire.Message {
	view, ok := s.registry.GetFile(msg.Filename)
	if !ok {
		return msg.Fail(wire.StatusFileNotFound, msg.Filename+" not found")
	}
	if msg.Username != view.Owner {
		return msg.Fail(wire.StatusNotOwner, "only the owner can delete "+msg.Filename)
	}
	if !view.HasPrimary {
		s.registry.PurgeFile(msg.Filename)
		return msg.Reply(wire.StatusOK, "")
	}

	req := &wire.Message{Op: wire.OpDelete, Username: msg.Username, Filename: msg.Filename, Sentence: -1}
	reply, err := wire.Exchange(ctx, view.Primary.ControlAddr(), req, createTimeout)
	if err != nil {
		return msg.Fail(wire.StatusConnectionFailed, "primary storage server unreachable")
	}
	switch reply.Status {
	case wire.StatusOK:
		s.registry.PurgeFile(msg.Filename)
		logger.Info("file deleted", "filename", msg.Filename, "owner", msg.Username)
		return msg.Reply(wire.StatusOK, "")
	case wire.StatusFileNotFound:
		// Stale metadata; the bytes are already gone.
		s.registry.PurgeFile(msg.Filename)
		return msg.Fail(wire.StatusFileNotFound, reply.ErrorMsg)
	default:
		return msg.Fail(reply.Status, reply.ErrorMsg)
	}
}

// handleInfo returns metadata without contacting the storage server, so
// counters may be stale when the server is unreachable.
func (s *Server) handleInfo(msg *wire.Message) *wire.Message {
	view, ok := s.registry.GetFile(msg.Filename)
	if !ok {
		return msg.Fail(wire.StatusFileNotFound, msg.Filename+" not found")
	}
	if view.AccessFor(msg.Username) < AccessRead {
		return msg.Fail(wire.StatusAccessDenied, "no read access to "+msg.Filename)
	}
	return msg.Reply(wire.StatusOK, renderInfo(view))
}

func (s *Server) handleList(msg *wire.Message) *wire.Message {
	var lines []string
	for _, c := range s.registry.Clients() {
		state := "inactive"
		if c.Active {
			state = "active"
		}
		lines = append(lines, c.Username+" ("+state+")")
	}
	return msg.Reply(wire.StatusOK, strings.Join(lines, "\n"))
}

func (s *Server) handleRecents(msg *wire.Message) *wire.Message {
	return msg.Reply(wire.StatusOK, strings.Join(s.registry.Recents(msg.Username, 5), "\n"))
}

// accessError maps registry errors to protocol statuses.
func accessError(msg *wire.Message, err error) *wire.Message {
	switch {
	case errors.Is(err, ErrFileNotFound):
		return msg.Fail(wire.StatusFileNotFound, msg.Filename+" not found")
	case errors.Is(err, ErrNotOwner):
		return msg.Fail(wire.StatusNotOwner, "only the owner can manage access to "+msg.Filename)
	case errors.Is(err, ErrUserNotFound):
		return msg.Fail(wire.StatusUserNotFound, "unknown user")
	case errors.Is(err, ErrAlreadyGranted):
		return msg.Fail(wire.StatusInvalidCommand, "user already has this access")
	case errors.Is(err, ErrNoPending):
		return msg.Fail(wire.StatusInvalidCommand, "no pending request from that user")
	default:
		return msg.Fail(wire.StatusServerError, err.Error())
	}
}

func grantLevel(flags uint16) Access {
	if flags&wire.FlagAll != 0 {
		return AccessWrite
	}
	return AccessRead
}

// handleAddAccess grants access to the user named in Data. The write-grant
// flag selects WRITE over READ.
func (s *Server) handleAddAccess(msg *wire.Message) *wire.Message {
	if err := s.registry.AddAccess(msg.Filename, msg.Username, msg.Data, grantLevel(msg.Flags)); err != nil {
		return accessError(msg, err)
	}
	return msg.Reply(wire.StatusOK, "")
}

func (s *Server) handleRemAccess(msg *wire.Message) *wire.Message {
	if err := s.registry.RemoveAccess(msg.Filename, msg.Username, msg.Data); err != nil {
		return accessError(msg, err)
	}
	return msg.Reply(wire.StatusOK, "")
}

func (s *Server) handleReqAccess(msg *wire.Message) *wire.Message {
	if err := s.registry.RequestAccess(msg.Filename, msg.Username, grantLevel(msg.Flags)); err != nil {
		return accessError(msg, err)
	}
	return msg.Reply(wire.StatusOK, "")
}

func (s *Server) handleViewRequests(msg *wire.Message) *wire.Message {
	pending, err := s.registry.PendingRequests(msg.Filename, msg.Username)
	if err != nil {
		return accessError(msg, err)
	}
	var lines []string
	for user, level := range pending {
		lines = append(lines, user+" "+level.String())
	}
	sort.Strings(lines)
	return msg.Reply(wire.StatusOK, strings.Join(lines, "\n"))
}

// handleResolveRequest approves or denies the pending request from the user
// named in Data.
func (s *Server) handleResolveRequest(msg *wire.Message) *wire.Message {
	approve := msg.Op == wire.OpApprove
	level, err := s.registry.ResolveRequest(msg.Filename, msg.Username, msg.Data, approve)
	if err != nil {
		return accessError(msg, err)
	}
	if approve {
		return msg.Reply(wire.StatusOK, "granted "+level.String())
	}
	return msg.Reply(wire.StatusOK, "denied")
}

// handleLocate resolves the storage endpoint for a data-path operation:
// ACL check, probe the primary's client endpoint, substitute the replica on
// probe failure.
func (s *Server) handleLocate(msg *wire.Message) *wire.Message {
	view, ok := s.registry.GetFile(msg.Filename)
	if !ok {
		return msg.Fail(wire.StatusFileNotFound, msg.Filename+" not found")
	}

	need := AccessRead
	switch msg.Op {
	case wire.OpWrite, wire.OpUndo, wire.OpCheckpoint, wire.OpRevert:
		need = AccessWrite
	}
	if view.AccessFor(msg.Username) < need {
		verb := "read"
		if need == AccessWrite {
			verb = "write"
		}
		return msg.Fail(wire.StatusAccessDenied, "no "+verb+" access to "+msg.Filename)
	}

	target, ok := s.reachableEndpoint(view)
	if !ok {
		return msg.Fail(wire.StatusConnectionFailed, "no reachable storage server for "+msg.Filename)
	}
	s.registry.Touch(msg.Filename, msg.Username)
	if need == AccessWrite {
		s.registry.MarkModified(msg.Filename)
	}
	return msg.Reply(wire.StatusOK, target.ClientAddr())
}

// reachableEndpoint probes the primary's client endpoint and falls back to
// the replica.
func (s *Server) reachableEndpoint(view FileView) (SSEndpoint, bool) {
	if view.HasPrimary && wire.Probe(view.Primary.ClientAddr(), s.cfg.ProbeTimeout) {
		return view.Primary, true
	}
	if view.HasReplica && view.Replica.Active && wire.Probe(view.Replica.ClientAddr(), s.cfg.ProbeTimeout) {
		return view.Replica, true
	}
	return SSEndpoint{}, false
}

// handleCreateFolder broadcasts the folder to every active storage server;
// the operation succeeds if at least one accepts.
func (s *Server) handleCreateFolder(ctx context.Context, msg *wire.Message) *wire.Message {
	if msg.Filename == "" {
		return msg.Fail(wire.StatusInvalidCommand, "folder path required")
	}
	active := s.registry.ActiveServers()
	if len(active) == 0 {
		return msg.Fail(wire.StatusSSNotFound, "no active storage servers")
	}

	succeeded := 0
	for _, ep := range active {
		req := &wire.Message{Op: wire.OpCreateFolder, Username: msg.Username, Filename: msg.Filename, Sentence: -1}
		reply, err := wire.Exchange(ctx, ep.ControlAddr(), req, createTimeout)
		if err != nil {
			logger.Warn("createfolder broadcast failed", "ss_id", ep.ID, "error", err)
			continue
		}
		if reply.Status == wire.StatusOK {
			succeeded++
		}
	}
	if succeeded == 0 {
		return msg.Fail(wire.StatusConnectionFailed, "no storage server accepted the folder")
	}
	return msg.Reply(wire.StatusOK, "")
}

// handleMove renames the file on the primary, then best-effort on the
// replica, then commits the new name to metadata. Data carries the
// destination folder. The name server drives both renames itself, so the
// primary is told not to fan the move out again.
func (s *Server) handleMove(ctx context.Context, msg *wire.Message) *wire.Message {
	view, ok := s.registry.GetFile(msg.Filename)
	if !ok {
		return msg.Fail(wire.StatusFileNotFound, msg.Filename+" not found")
	}
	if msg.Username != view.Owner {
		return msg.Fail(wire.StatusNotOwner, "only the owner can move "+msg.Filename)
	}
	folder := strings.Trim(msg.Data, "/")
	if folder == "" {
		return msg.Fail(wire.StatusInvalidCommand, "destination folder required")
	}
	newPath := folder + "/" + path.Base(msg.Filename)
	if newPath == msg.Filename {
		return msg.Fail(wire.StatusInvalidCommand, "file is already in "+folder)
	}
	if _, exists := s.registry.GetFile(newPath); exists {
		return msg.Fail(wire.StatusFileExists, newPath+" already exists")
	}
	if !view.HasPrimary {
		return msg.Fail(wire.StatusSSNotFound, "no primary storage server for "+msg.Filename)
	}

	req := &wire.Message{
		Op:       wire.OpMove,
		Flags:    wire.FlagReplication,
		Username: msg.Username,
		Filename: msg.Filename,
		Data:     newPath,
		Sentence: -1,
	}
	reply, err := wire.Exchange(ctx, view.Primary.ControlAddr(), req, createTimeout)
	if err != nil {
		return msg.Fail(wire.StatusConnectionFailed, "primary storage server unreachable")
	}
	if reply.Status != wire.StatusOK {
		return msg.Fail(reply.Status, reply.ErrorMsg)
	}

	if view.HasReplica && view.Replica.Active {
		repl := &wire.Message{
			Op:       wire.OpReplMove,
			Flags:    wire.FlagReplication,
			Username: msg.Username,
			Filename: msg.Filename,
			Data:     newPath,
			Sentence: -1,
		}
		if _, err := wire.Exchange(ctx, view.Replica.ControlAddr(), repl, createTimeout); err != nil {
			logger.Warn("replica move failed", "filename", msg.Filename, "error", err)
		}
	}

	if err := s.registry.RenameFile(msg.Filename, newPath); err != nil {
		return msg.Fail(wire.StatusServerError, err.Error())
	}
	logger.Info("file moved", "from", msg.Filename, "to", newPath)
	return msg.Reply(wire.StatusOK, newPath)
}

// handleViewFolder filters records under the folder prefix that the
// requester can read. Metadata-only.
func (s *Server) handleViewFolder(msg *wire.Message) *wire.Message {
	folder := strings.Trim(msg.Filename, "/")
	if folder == "" {
		return msg.Fail(wire.StatusInvalidCommand, "folder path required")
	}
	prefix := folder + "/"
	var names []string
	for _, view := range s.registry.ListFiles() {
		if !strings.HasPrefix(view.Filename, prefix) {
			continue
		}
		if view.AccessFor(msg.Username) < AccessRead {
			continue
		}
		names = append(names, view.Filename)
	}
	sort.Strings(names)
	return msg.Reply(wire.StatusOK, strings.Join(names, "\n"))
}
