package nameserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/config"
	"github.com/scribefs/scribefs/pkg/metrics"
	"github.com/scribefs/scribefs/pkg/transport"
	"github.com/scribefs/scribefs/pkg/wire"
)

// internalUser is the username stamped on probes and resync traffic so
// storage servers can tell coordinator requests from client requests.
const internalUser = "NM"

// Server is the name server: one TCP endpoint shared by clients and
// storage servers, a heartbeat loop, and the metadata registry.
type Server struct {
	cfg      config.NameServerConfig
	registry *Registry
	tcp      *transport.Server
	metrics  metrics.Recorder
}

// New creates a name server, loading any existing metadata snapshot.
// The metrics recorder may be nil.
func New(cfg config.NameServerConfig, rec metrics.Recorder) (*Server, error) {
	registry := NewRegistry(cfg.DataFile)
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	s := &Server{cfg: cfg, registry: registry, metrics: rec}
	s.tcp = transport.NewServer(transport.Config{
		BindAddress:     cfg.BindAddress,
		Port:            cfg.Port,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, "nameserver")
	if rec != nil {
		s.tcp.Metrics = rec
	}
	return s, nil
}

// Registry exposes the metadata registry for the admin API.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the listen address once the listener is up.
func (s *Server) Addr() string {
	return s.tcp.Addr()
}

// Port returns the bound port once the listener is up.
func (s *Server) Port() int {
	return s.tcp.Port()
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	go s.heartbeatLoop(ctx)
	return s.tcp.Serve(ctx, s)
}

// Stop initiates shutdown.
func (s *Server) Stop() {
	s.tcp.Stop()
}

// NewConnection implements transport.ConnectionFactory.
func (s *Server) NewConnection(conn net.Conn) transport.ConnectionHandler {
	return &connection{server: s, conn: conn}
}

// connection serves one client or storage server connection. A username is
// bound to the connection by REGISTER_CLIENT and marked inactive when the
// connection closes.
type connection struct {
	server   *Server
	conn     net.Conn
	username string
}

func (c *connection) Serve(ctx context.Context) {
	defer c.conn.Close()
	defer func() {
		if c.username != "" {
			c.server.registry.SetClientActive(c.username, false)
			logger.Info("client disconnected", "username", c.username)
		}
	}()

	for {
		msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			if err != io.EOF {
				logger.Debug("nameserver read failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			}
			return
		}

		start := time.Now()
		op := msg.Op
		reply := c.server.dispatch(ctx, c, msg)
		if c.server.metrics != nil {
			c.server.metrics.RecordRequest(op.String(), time.Since(start), reply.Status.String())
		}
		if err := wire.WriteMessage(c.conn, reply); err != nil {
			logger.Debug("nameserver write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			return
		}
	}
}

// remoteHost returns the peer IP without the port.
func (c *connection) remoteHost() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}
