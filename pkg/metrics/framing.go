package metrics

import "time"

// FramingMetrics provides observability for the framing adapters.
//
// Implementations collect metrics about connection lifecycle, preamble
// decoding, faults returned to peers and dispatched messages. This interface
// is optional - if not provided to an adapter, a no-op implementation is used
// with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewFramingMetrics()
//	adapter := framing.NewTCPAdapter(config, m)
//
//	// Without metrics (no-op)
//	adapter := framing.NewTCPAdapter(config, nil)
type FramingMetrics interface {
	// RecordConnectionAccepted counts an accepted connection.
	//
	// Parameters:
	//   - transport: Transport name ("tcp" or "pipe")
	RecordConnectionAccepted(transport string)

	// RecordConnectionClosed counts a finished connection and its lifetime.
	RecordConnectionClosed(transport string, lifetime time.Duration)

	// RecordConnectionRejected counts a connection refused before decoding,
	// for example because the server is too busy.
	//
	// Parameters:
	//   - reason: Short reason label (e.g., "max_connections", "rate_limited")
	RecordConnectionRejected(transport string, reason string)

	// RecordConnectionForceClosed counts connections aborted because a
	// graceful shutdown timed out.
	RecordConnectionForceClosed(transport string)

	// SetActiveConnections updates the live connection gauge.
	SetActiveConnections(transport string, count int32)

	// RecordPreambleDecoded records a successfully decoded preamble and how
	// long it took from accept.
	RecordPreambleDecoded(transport string, mode string, duration time.Duration)

	// RecordFault counts a fault sent to (or detected from) a peer.
	//
	// Parameters:
	//   - fault: Short fault name (see framing.ShortFaultName)
	RecordFault(transport string, fault string)

	// RecordMessageDispatched counts a message handed to the dispatcher.
	RecordMessageDispatched(transport string, bodyBytes int)

	// RecordBytesReceived counts raw bytes read from peers.
	RecordBytesReceived(transport string, bytes int64)
}

// NewNoopFramingMetrics returns a FramingMetrics that discards everything.
func NewNoopFramingMetrics() FramingMetrics {
	return noopFramingMetrics{}
}

// noopFramingMetrics is a no-op implementation of FramingMetrics with zero overhead.
type noopFramingMetrics struct{}

func (noopFramingMetrics) RecordConnectionAccepted(transport string)                            {}
func (noopFramingMetrics) RecordConnectionClosed(transport string, lifetime time.Duration)      {}
func (noopFramingMetrics) RecordConnectionRejected(transport string, reason string)             {}
func (noopFramingMetrics) RecordConnectionForceClosed(transport string)                         {}
func (noopFramingMetrics) SetActiveConnections(transport string, count int32)                   {}
func (noopFramingMetrics) RecordPreambleDecoded(transport, mode string, duration time.Duration) {}
func (noopFramingMetrics) RecordFault(transport string, fault string)                           {}
func (noopFramingMetrics) RecordMessageDispatched(transport string, bodyBytes int)              {}
func (noopFramingMetrics) RecordBytesReceived(transport string, bytes int64)                    {}
