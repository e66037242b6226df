// Package metrics defines the observability interfaces for the name server
// and storage server. Implementations are optional: a nil recorder disables
// collection with zero overhead.
package metrics

import "time"

// Recorder collects request and connection metrics for one server
// component ("nameserver" or "storage").
type Recorder interface {
	// RecordRequest records a completed protocol request with its
	// operation name, duration, and final status string (e.g. "SUCCESS",
	// "FILE_NOT_FOUND").
	RecordRequest(op string, duration time.Duration, status string)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the active connection gauge.
	SetActiveConnections(count int32)

	// RecordReplicationFailure increments the dropped replication counter.
	// Only meaningful on the storage server.
	RecordReplicationFailure()
}
