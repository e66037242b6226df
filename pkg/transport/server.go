// Package transport provides the shared TCP listener lifecycle used by both
// the name server endpoint and the storage server's control and client
// endpoints: accept loop, optional connection limiting, connection tracking,
// and graceful shutdown with forced closure on timeout.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
)

// ConnectionHandler serves one accepted connection. Serve blocks until the
// connection is closed or the context is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates handlers for accepted connections. The name
// server and storage server each implement this for their endpoints.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// MetricsRecorder records connection lifecycle metrics. Nil disables
// collection with zero overhead.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	SetActiveConnections(count int32)
}

// Config holds listener configuration common to all endpoints.
type Config struct {
	// BindAddress is the IP to bind to. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port to listen on. 0 lets the OS choose.
	Port int

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for active connections on shutdown.
	ShutdownTimeout time.Duration
}

// Server runs one TCP accept loop with graceful shutdown.
type Server struct {
	Config Config

	// name labels the endpoint in logs, e.g. "nameserver", "ss-control".
	name string

	// Metrics is optional; nil disables connection metrics.
	Metrics MetricsRecorder

	listener   net.Listener
	listenerMu sync.RWMutex

	activeConns  sync.WaitGroup
	connCount    atomic.Int32
	shutdownOnce sync.Once
	shutdown     chan struct{}
	semaphore    chan struct{}

	// tracked maps remote address to net.Conn for forced closure.
	tracked sync.Map

	// ListenerReady is closed once the listener accepts connections.
	// Tests use it to synchronize with startup.
	ListenerReady chan struct{}
}

// NewServer creates a stopped server. Call Serve to start.
func NewServer(cfg Config, name string) *Server {
	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}
	return &Server{
		Config:        cfg,
		name:          name,
		shutdown:      make(chan struct{}),
		semaphore:     sem,
		ListenerReady: make(chan struct{}),
	}
}

// Addr returns the listener address. Blocks until the listener is ready.
func (s *Server) Addr() string {
	<-s.ListenerReady
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port. Blocks until the listener is ready.
func (s *Server) Port() int {
	addr := s.Addr()
	if addr == "" {
		return 0
	}
	tcpAddr, ok := s.listenerAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return tcpAddr.Port
}

func (s *Server) listenerAddr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until the context is cancelled or Stop is
// called, then drains active connections.
func (s *Server) Serve(ctx context.Context, factory ConnectionFactory) error {
	listenAddr := fmt.Sprintf("%s:%d", s.Config.BindAddress, s.Config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", s.name, listenAddr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info(s.name+" listening", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	for {
		if s.semaphore != nil {
			select {
			case s.semaphore <- struct{}{}:
			case <-s.shutdown:
				return s.drain()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.semaphore != nil {
				<-s.semaphore
			}
			select {
			case <-s.shutdown:
				return s.drain()
			default:
				logger.Debug("accept error on "+s.name, "error", err)
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		s.activeConns.Add(1)
		count := s.connCount.Add(1)
		addr := conn.RemoteAddr().String()
		s.tracked.Store(addr, conn)

		if s.Metrics != nil {
			s.Metrics.RecordConnectionAccepted()
			s.Metrics.SetActiveConnections(count)
		}
		logger.Debug(s.name+" connection accepted", "address", addr, "active", count)

		handler := factory.NewConnection(conn)
		go func(addr string, conn net.Conn) {
			defer func() {
				s.tracked.Delete(addr)
				s.activeConns.Done()
				remaining := s.connCount.Add(-1)
				if s.semaphore != nil {
					<-s.semaphore
				}
				if s.Metrics != nil {
					s.Metrics.RecordConnectionClosed()
					s.Metrics.SetActiveConnections(remaining)
				}
				logger.Debug(s.name+" connection closed", "address", addr, "active", remaining)
			}()
			handler.Serve(ctx)
		}(addr, conn)
	}
}

// initiateShutdown closes the shutdown channel and the listener, then
// interrupts blocking reads on tracked connections. Idempotent.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.listenerMu.Unlock()

		deadline := time.Now().Add(100 * time.Millisecond)
		s.tracked.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.SetReadDeadline(deadline)
			}
			return true
		})
	})
}

// drain waits for active connections to finish, force-closing leftovers
// after ShutdownTimeout.
func (s *Server) drain() error {
	active := s.connCount.Load()
	logger.Info(s.name+" shutting down", "active", active, "timeout", s.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	timeout := s.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case <-done:
		logger.Info(s.name + " shutdown complete")
		return nil
	case <-time.After(timeout):
		remaining := s.connCount.Load()
		s.tracked.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.Close()
			}
			return true
		})
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", s.name, remaining)
	}
}

// Stop initiates shutdown. Safe to call multiple times and concurrently
// with Serve.
func (s *Server) Stop() {
	s.initiateShutdown()
}

// ActiveConnections returns the current connection count.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}
