package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/config"
	"github.com/scribefs/scribefs/pkg/metrics"
	"github.com/scribefs/scribefs/pkg/transport"
	"github.com/scribefs/scribefs/pkg/wire"
)

// registerRetryInterval paces registration attempts while the name server
// is unreachable.
const registerRetryInterval = 2 * time.Second

// Server is one storage server: a control endpoint for the name server and
// peer servers, a client endpoint for end users, and the file engine.
type Server struct {
	cfg     config.StorageConfig
	engine  *Engine
	repl    *Replicator
	control *transport.Server
	client  *transport.Server
	metrics metrics.Recorder
}

// New opens the storage root, scans it, and prepares both endpoints. The
// metrics recorder may be nil.
func New(cfg config.StorageConfig, rec metrics.Recorder) (*Server, error) {
	store, err := NewStore(cfg.Root)
	if err != nil {
		return nil, err
	}
	repl := NewReplicator(cfg.ReplicationTimeout, rec)
	engine, err := NewEngine(store, repl)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, engine: engine, repl: repl, metrics: rec}
	s.control = transport.NewServer(transport.Config{
		BindAddress:     cfg.BindAddress,
		Port:            cfg.ControlPort,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, "ss-control")
	s.client = transport.NewServer(transport.Config{
		BindAddress:     cfg.BindAddress,
		Port:            cfg.ClientPort,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, "ss-client")
	if rec != nil {
		s.control.Metrics = rec
		s.client.Metrics = rec
	}
	return s, nil
}

// Engine exposes the file engine for tests.
func (s *Server) Engine() *Engine {
	return s.engine
}

// ControlAddr returns the control listen address once up.
func (s *Server) ControlAddr() string {
	return s.control.Addr()
}

// ClientAddr returns the client listen address once up.
func (s *Server) ClientAddr() string {
	return s.client.Addr()
}

// Run serves both endpoints and keeps registering with the name server
// until it succeeds. Returns when the context is cancelled and the
// endpoints have drained.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		errCh <- s.control.Serve(ctx, &controlFactory{server: s})
	}()
	go func() {
		errCh <- s.client.Serve(ctx, &clientFactory{server: s})
	}()

	go s.registerLoop(ctx)

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			s.control.Stop()
			s.client.Stop()
		}
	}
	return firstErr
}

// Stop initiates shutdown of both endpoints.
func (s *Server) Stop() {
	s.control.Stop()
	s.client.Stop()
}

// registerLoop announces this server to the name server, retrying until
// one registration succeeds. The name server probes liveness afterwards,
// so a single successful registration is enough.
func (s *Server) registerLoop(ctx context.Context) {
	controlPort := s.control.Port()
	clientPort := s.client.Port()
	data := fmt.Sprintf("%s %d %d", s.cfg.AdvertiseIP, controlPort, clientPort)

	for {
		req := &wire.Message{Op: wire.OpRegisterSS, Username: "SS", Data: data, Sentence: -1}
		reply, err := wire.Exchange(ctx, s.cfg.NameServerAddr, req, registerRetryInterval)
		if err == nil && reply.Status == wire.StatusOK {
			id, _ := strconv.Atoi(reply.Data)
			logger.Info("registered with name server", "ss_id", id, "nameserver", s.cfg.NameServerAddr)
			return
		}
		if err != nil {
			logger.Warn("registration failed, retrying", "nameserver", s.cfg.NameServerAddr, "error", err)
		} else {
			logger.Warn("registration rejected, retrying", "status", reply.Status.String(), "details", reply.ErrorMsg)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(registerRetryInterval):
		}
	}
}

type controlFactory struct{ server *Server }

func (f *controlFactory) NewConnection(conn net.Conn) transport.ConnectionHandler {
	return &controlConn{server: f.server, conn: conn}
}

// controlConn serves the name server and peer storage servers.
type controlConn struct {
	server *Server
	conn   net.Conn
}

func (c *controlConn) Serve(ctx context.Context) {
	defer c.conn.Close()
	for {
		msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			return
		}
		start := time.Now()
		op := msg.Op
		reply := c.server.dispatchControl(msg)
		if c.server.metrics != nil {
			c.server.metrics.RecordRequest(op.String(), time.Since(start), reply.Status.String())
		}
		if err := wire.WriteMessage(c.conn, reply); err != nil {
			return
		}
	}
}

var connCounter atomic.Uint64

func nextConnID() uint64 {
	return connCounter.Add(1)
}

type clientFactory struct{ server *Server }

func (f *clientFactory) NewConnection(conn net.Conn) transport.ConnectionHandler {
	return &clientConn{server: f.server, conn: conn, id: nextConnID()}
}

// clientConn serves one end-user connection. Locks taken on it are
// released if the connection terminates abnormally mid-session; a clean
// close leaves them for the owner's next connection, since the write flow
// spans several short-lived connections.
type clientConn struct {
	server *Server
	conn   net.Conn
	id     uint64
}

func (c *clientConn) Serve(ctx context.Context) {
	defer c.conn.Close()
	clean := false
	defer func() {
		if !clean {
			c.server.engine.ReleaseConnection(c.id)
		}
	}()

	for {
		msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			clean = err == io.EOF
			return
		}

		if msg.Op == wire.OpStream {
			start := time.Now()
			status := c.handleStream(msg)
			if c.server.metrics != nil {
				c.server.metrics.RecordRequest(wire.OpStream.String(), time.Since(start), status.String())
			}
			continue
		}

		start := time.Now()
		op := msg.Op
		reply := c.server.dispatchClient(c, msg)
		if c.server.metrics != nil {
			c.server.metrics.RecordRequest(op.String(), time.Since(start), reply.Status.String())
		}
		if err := wire.WriteMessage(c.conn, reply); err != nil {
			return
		}
	}
}
