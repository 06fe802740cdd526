package pipe

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/framingd/pkg/bufpool"
)

func newTestConnection(t *testing.T) (*NamedPipeConnection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	buffers := bufpool.NewBufferManager(64*1024, 8192)
	pc := NewNamedPipeConnection(1, server, buffers, 512)
	pc.Start()
	t.Cleanup(func() {
		client.Close()
		pc.Abort()
	})
	return pc, client
}

func TestNamedPipeConnection(t *testing.T) {
	t.Run("ReceivesUntilPeerCloses", func(t *testing.T) {
		pc, client := newTestConnection(t)

		go func() {
			client.Write([]byte("hello"))
			client.Close()
		}()

		data, err := io.ReadAll(pc)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		select {
		case <-pc.ConnectionClosed().Done():
		case <-time.After(time.Second):
			t.Fatal("connection closed context not cancelled")
		}
	})

	t.Run("SendsAndClosesOnCloseWrite", func(t *testing.T) {
		pc, client := newTestConnection(t)

		go func() {
			pc.Write([]byte("world"))
			pc.CloseWrite()
		}()

		data, err := io.ReadAll(client)
		require.NoError(t, err)
		assert.Equal(t, "world", string(data))

		select {
		case <-pc.Done():
		case <-time.After(time.Second):
			t.Fatal("pumps did not exit")
		}
		assert.ErrorIs(t, pc.ShutdownReason(), ErrSendCompleted)
	})

	t.Run("LargeTransferCrossesBufferBoundaries", func(t *testing.T) {
		pc, client := newTestConnection(t)

		payload := make([]byte, 10_000)
		for i := range payload {
			payload[i] = byte(i)
		}
		go func() {
			client.Write(payload)
			client.Close()
		}()

		data, err := io.ReadAll(pc)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	})

	t.Run("AbortReportsReason", func(t *testing.T) {
		pc, client := newTestConnection(t)

		pc.Abort()

		_, err := io.ReadAll(pc)
		assert.ErrorIs(t, err, ErrConnectionAborted)

		_, err = pc.Write([]byte("x"))
		assert.ErrorIs(t, err, ErrConnectionAborted)

		_, err = client.Read(make([]byte, 1))
		assert.Error(t, err)

		select {
		case <-pc.Done():
		case <-time.After(time.Second):
			t.Fatal("pumps did not exit")
		}
	})

	t.Run("FirstShutdownReasonWins", func(t *testing.T) {
		pc, _ := newTestConnection(t)

		first := io.ErrUnexpectedEOF
		pc.AbortWithReason(first)
		pc.Abort()

		assert.Equal(t, first, pc.ShutdownReason())
	})

	t.Run("RequestCloseSignalsApplication", func(t *testing.T) {
		pc, _ := newTestConnection(t)

		assert.NoError(t, pc.CloseRequested().Err())
		pc.RequestClose()
		assert.Error(t, pc.CloseRequested().Err())

		select {
		case <-pc.Done():
			t.Fatal("RequestClose must not tear the connection down")
		default:
		}
	})

	t.Run("DisposeIsIdempotent", func(t *testing.T) {
		pc, client := newTestConnection(t)
		go io.Copy(io.Discard, client)

		require.NoError(t, pc.Dispose(context.Background()))
		require.NoError(t, pc.Dispose(context.Background()))
		assert.Error(t, pc.ConnectionClosed().Err())

		select {
		case <-pc.Done():
		default:
			t.Fatal("Dispose returned before the pumps exited")
		}
	})

	t.Run("DisposeAbortsWhenContextEnds", func(t *testing.T) {
		pc, _ := newTestConnection(t)

		// Nobody reads the peer side, so the send pump blocks on the native
		// write.
		go pc.Write([]byte("stuck"))
		time.Sleep(20 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := pc.Dispose(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, pc.ShutdownReason(), ErrConnectionAborted)
	})

	t.Run("DisposeWithoutStart", func(t *testing.T) {
		server, client := net.Pipe()
		defer client.Close()

		pc := NewNamedPipeConnection(2, server, nil, 0)
		require.NoError(t, pc.Close())

		select {
		case <-pc.Done():
		default:
			t.Fatal("pumps still running after Close")
		}
	})
}
