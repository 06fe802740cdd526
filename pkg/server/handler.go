package server

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/protocol/framing"
	adapterFraming "github.com/marmos91/framingd/pkg/adapter/framing"
	"github.com/marmos91/framingd/pkg/queue"
)

// Delivery is a decoded message as seen by a Handler, whichever way it
// arrived.
type Delivery struct {
	// Source is the transport ("tcp", "pipe") or "queue:<name>".
	Source string

	// ID is the connection id for stream transports or the lookup id of a
	// queued message.
	ID string

	// Endpoint is the matched endpoint name. Empty for queued messages.
	Endpoint string

	Via         *url.URL
	ContentType string
	Mode        framing.Mode
	Body        []byte
	RemoteAddr  string
	ReceivedAt  time.Time
}

// Handler processes delivered messages. Returned errors are logged.
type Handler interface {
	HandleMessage(ctx context.Context, d *Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *Delivery) error

func (f HandlerFunc) HandleMessage(ctx context.Context, d *Delivery) error {
	return f(ctx, d)
}

// LoggingHandler logs every message and discards it.
type LoggingHandler struct{}

func (LoggingHandler) HandleMessage(_ context.Context, d *Delivery) error {
	logger.Info("Message %s from %s for %s: %s, %d bytes",
		d.ID, d.Source, d.Via, d.ContentType, len(d.Body))
	return nil
}

func deliveryFromMessage(msg *adapterFraming.Message) *Delivery {
	d := &Delivery{
		Source:      msg.Transport,
		ID:          formatConnID(msg.ConnectionID),
		Via:         msg.Via,
		ContentType: msg.ContentType,
		Mode:        msg.Mode,
		Body:        msg.Body,
		RemoteAddr:  msg.RemoteAddr,
		ReceivedAt:  msg.ReceivedAt,
	}
	if msg.Endpoint != nil {
		d.Endpoint = msg.Endpoint.Name
	}
	return d
}

func deliveryFromQueue(name string, msg *queue.MessageContext) *Delivery {
	return &Delivery{
		Source:      "queue:" + name,
		ID:          msg.LookupID,
		Via:         msg.Via,
		ContentType: msg.ContentType,
		Mode:        msg.Mode,
		Body:        msg.Body,
		ReceivedAt:  msg.ReceivedAt,
	}
}

func formatConnID(id int64) string {
	return "conn-" + strconv.FormatInt(id, 10)
}
