package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/framingd/internal/protocol/framing"
	adapterFraming "github.com/marmos91/framingd/pkg/adapter/framing"
	"github.com/marmos91/framingd/pkg/queue"
	"github.com/marmos91/framingd/pkg/transport/pipe"
)

const defaultContentType = "application/soap+msbin1"

type sendOptions struct {
	tcp         string
	pipe        string
	shm         string
	spool       string
	via         string
	contentType string
	body        string
	file        string
	timeout     time.Duration
}

func runSend(args []string) error {
	var opts sendOptions
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	fs.StringVar(&opts.tcp, "tcp", "", "Server address (host:port)")
	fs.StringVar(&opts.pipe, "pipe", "", "Server socket path")
	fs.StringVar(&opts.shm, "shm", "", "Shared memory file publishing the server socket path")
	fs.StringVar(&opts.spool, "spool", "", "Write the message into this queue spool directory instead of connecting")
	fs.StringVar(&opts.via, "via", "", "Target endpoint address (required)")
	fs.StringVar(&opts.contentType, "content-type", defaultContentType, "Message content type")
	fs.StringVar(&opts.body, "body", "", "Message body")
	fs.StringVar(&opts.file, "file", "", "Read the message body from this file ('-' for stdin)")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for the whole exchange")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.via == "" {
		return errors.New("--via is required")
	}
	body, err := opts.readBody()
	if err != nil {
		return err
	}

	if opts.spool != "" {
		path, err := spoolMessage(opts.spool, opts.via, opts.contentType, body)
		if err != nil {
			return err
		}
		fmt.Printf("Message spooled to %s\n", path)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	conn, err := opts.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := adapterFraming.SendMessage(ctx, conn, opts.via, opts.contentType, body); err != nil {
		var fe *adapterFraming.FaultError
		if errors.As(err, &fe) {
			return fmt.Errorf("server rejected message: %s", fe.Fault)
		}
		return err
	}

	fmt.Printf("Message delivered (%d bytes)\n", len(body))
	return nil
}

func (o *sendOptions) readBody() ([]byte, error) {
	switch {
	case o.file == "-":
		return io.ReadAll(os.Stdin)
	case o.file != "":
		return os.ReadFile(o.file)
	default:
		return []byte(o.body), nil
	}
}

type clientConn interface {
	adapterFraming.ClientConn
	Close() error
}

func (o *sendOptions) dial(ctx context.Context) (clientConn, error) {
	var d net.Dialer

	targets := 0
	for _, t := range []string{o.tcp, o.pipe, o.shm} {
		if t != "" {
			targets++
		}
	}
	if targets != 1 {
		return nil, errors.New("exactly one of --tcp, --pipe, --shm or --spool is required")
	}

	path := o.pipe
	switch {
	case o.tcp != "":
		c, err := d.DialContext(ctx, "tcp", o.tcp)
		if err != nil {
			return nil, err
		}
		return c.(*net.TCPConn), nil
	case o.shm != "":
		name, err := pipe.LookupPipeName(o.shm)
		if err != nil {
			return nil, fmt.Errorf("look up pipe name: %w", err)
		}
		path = name
	}

	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return c.(*net.UnixConn), nil
}

// spoolMessage writes a SingletonSized message into a queue spool
// directory under a fresh time-ordered id.
func spoolMessage(dir, via, contentType string, body []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool directory: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	raw := framing.AppendPreamble(nil, framing.ModeSingletonSized)
	raw = framing.AppendSizedHeader(raw, via, contentType)
	raw = append(raw, body...)

	return queue.WriteMessageFile(dir, id.String(), raw)
}
