package metrics

// QueueMetrics provides observability for queued message receivers.
//
// This interface is optional - a nil QueueMetrics passed to a receiver is
// replaced with a no-op implementation.
type QueueMetrics interface {
	// RecordMessageReceived counts a raw message taken from a source.
	RecordMessageReceived(source string)

	// RecordMessageDecoded counts a message whose framing header decoded
	// and whose body was published.
	RecordMessageDecoded(source string, bodyBytes int)

	// RecordPoisonMessage counts a message moved to the dead-letter store.
	//
	// Parameters:
	//   - fault: Short fault name, "none" when the failure carried no fault
	RecordPoisonMessage(source string, fault string)

	// RecordDeadLetterError counts a poison message that could not be
	// stored.
	RecordDeadLetterError(source string)
}

// NewNoopQueueMetrics returns a QueueMetrics that discards everything.
func NewNoopQueueMetrics() QueueMetrics {
	return noopQueueMetrics{}
}

type noopQueueMetrics struct{}

func (noopQueueMetrics) RecordMessageReceived(source string)               {}
func (noopQueueMetrics) RecordMessageDecoded(source string, bodyBytes int) {}
func (noopQueueMetrics) RecordPoisonMessage(source string, fault string)   {}
func (noopQueueMetrics) RecordDeadLetterError(source string)               {}
