package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/protocol/framing"
	"github.com/marmos91/framingd/pkg/deadletter"
	"github.com/marmos91/framingd/pkg/inputqueue"
	"github.com/marmos91/framingd/pkg/metrics"
)

// MessageContext is a decoded queued message handed to the dispatcher.
type MessageContext struct {
	LookupID    string
	Via         *url.URL
	ContentType string
	Mode        framing.Mode
	Body        []byte
	ReceivedAt  time.Time
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Name identifies the receiver in logs, metrics and dead-letter records.
	Name string

	// Limits bound the via and content type.
	Limits framing.Limits

	// MaxReceivedMessageSize bounds the body. Zero means unlimited.
	MaxReceivedMessageSize int64
}

// Receiver pulls raw messages from a MessageSource, decodes their framing
// header and publishes them on an InputQueue. Poison messages go to the
// dead-letter store.
type Receiver struct {
	config      ReceiverConfig
	source      MessageSource
	helper      *DecodeHelper
	deadLetters deadletter.Store
	output      *inputqueue.InputQueue[*MessageContext]
	metrics     metrics.QueueMetrics
}

// NewReceiver creates a receiver. deadLetters may be nil, in which case
// poison messages are logged and dropped; m may be nil for no metrics.
func NewReceiver(config ReceiverConfig, source MessageSource, deadLetters deadletter.Store, m metrics.QueueMetrics) *Receiver {
	if config.Name == "" {
		config.Name = "queue"
	}
	if m == nil {
		m = metrics.NewNoopQueueMetrics()
	}
	return &Receiver{
		config:      config,
		source:      source,
		helper:      NewDecodeHelper(config.Limits),
		deadLetters: deadLetters,
		output:      inputqueue.New[*MessageContext](),
		metrics:     m,
	}
}

// Name returns the receiver name.
func (r *Receiver) Name() string { return r.config.Name }

// Run receives until the source is drained or ctx ends. On return the
// output queue is shut down so consumers drain what was published and then
// see the end.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.output.Shutdown(nil)

	logger.Info("Queue receiver %s started", r.config.Name)
	for {
		raw, err := r.source.Receive(ctx)
		if errors.Is(err, io.EOF) {
			logger.Info("Queue receiver %s: source drained", r.config.Name)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("queue receiver %s: %w", r.config.Name, err)
		}

		r.metrics.RecordMessageReceived(r.config.Name)
		if err := r.process(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// process decodes one message. Only context errors are returned; poison
// messages are dead-lettered.
func (r *Receiver) process(ctx context.Context, raw *RawMessage) error {
	reader := NewBytesSegmentReader(raw.Segments...)

	header, err := r.helper.DecodeTransportDatagram(ctx, raw.LookupID, reader)
	var body []byte
	if err == nil {
		body, err = ReadBody(ctx, raw.LookupID, reader, r.config.MaxReceivedMessageSize)
	}
	if err != nil {
		if IsPoison(err) {
			r.deadLetter(ctx, raw, err)
			return nil
		}
		return err
	}

	msg := &MessageContext{
		LookupID:    raw.LookupID,
		Via:         header.Via,
		ContentType: header.ContentType,
		Mode:        header.Mode,
		Body:        body,
		ReceivedAt:  time.Now(),
	}
	r.metrics.RecordMessageDecoded(r.config.Name, len(body))
	logger.Debug("Queue receiver %s: message %s for %s (%s, %d bytes)",
		r.config.Name, raw.LookupID, header.Via, header.ContentType, len(body))

	r.output.EnqueueAndDispatch(msg, nil, false)
	return nil
}

func (r *Receiver) deadLetter(ctx context.Context, raw *RawMessage, cause error) {
	fault := framing.FaultOf(cause)
	r.metrics.RecordPoisonMessage(r.config.Name, framing.ShortFaultName(fault))
	logger.Warn("Queue receiver %s: poison message %s: %v", r.config.Name, raw.LookupID, cause)

	if r.deadLetters == nil {
		return
	}
	rec, err := deadletter.NewRecord(r.config.Name, raw.LookupID, raw.Payload(), cause)
	if err == nil {
		err = r.deadLetters.Put(ctx, rec)
	}
	if err != nil {
		r.metrics.RecordDeadLetterError(r.config.Name)
		logger.Error("Queue receiver %s: dead-lettering %s failed: %v", r.config.Name, raw.LookupID, err)
	}
}

// Receive returns the next decoded message. After the receiver stops and
// everything published has been consumed it returns a nil message and nil
// error.
func (r *Receiver) Receive(ctx context.Context) (*MessageContext, error) {
	return r.output.Dequeue(ctx)
}

// Pending returns the number of decoded messages not yet received.
func (r *Receiver) Pending() int {
	return r.output.PendingCount()
}

// Close discards unreceived messages and fails blocked Receive calls.
func (r *Receiver) Close() {
	r.output.Close()
}
