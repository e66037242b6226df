package wire

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Exchange performs one short-lived request/reply round trip: dial addr,
// send the message, read one reply, close. A zero timeout means no
// deadline beyond the context.
func Exchange(ctx context.Context, addr string, req *Message, timeout time.Duration) (*Message, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	if err := WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("send to %s: %w", addr, err)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", addr, err)
	}
	return reply, nil
}

// Probe attempts a bare TCP connect to addr within timeout. Used by the
// name server's heartbeat loop and failover locate path.
func Probe(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
