//go:build unix

package framing

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/framingd/internal/protocol/framing"
	"github.com/marmos91/framingd/pkg/transport/pipe"
)

const testPipeEndpoint = "net.pipe://localhost/orders"

// shortTempDir keeps socket paths under the sun_path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fpa")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startPipe(t *testing.T, cfg PipeConfig, host *Host, m *recordingFramingMetrics) *PipeAdapter {
	t.Helper()
	a := NewPipeAdapter(cfg, host, nil, asMetrics(m))

	done := make(chan error, 1)
	go func() { done <- a.Serve(context.Background()) }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.Path)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
		<-done
	})
	return a
}

func dialPipe(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sendPipe(t *testing.T, path, via string, body []byte) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return SendMessage(ctx, dialPipe(t, path), via, testContentType, body)
}

func TestPipeAdapter(t *testing.T) {
	t.Run("DeliversMessage", func(t *testing.T) {
		dir := shortTempDir(t)
		m := newRecordingFramingMetrics()
		host := newTestHost(t, HostConfig{})
		_, err := host.Endpoints().Register("pipe-orders", testPipeEndpoint)
		require.NoError(t, err)

		path := filepath.Join(dir, "orders.sock")
		a := startPipe(t, PipeConfig{Path: path}, host, m)
		assert.Equal(t, "pipe", a.Protocol())
		assert.Equal(t, path, a.Addr())

		require.NoError(t, sendPipe(t, path, testPipeEndpoint, []byte("over the pipe")))

		msg := acceptMessage(t, host)
		assert.Equal(t, "pipe", msg.Transport)
		assert.Equal(t, "pipe-orders", msg.Endpoint.Name)
		assert.Equal(t, "over the pipe", string(msg.Body))

		m.mu.Lock()
		defer m.mu.Unlock()
		assert.Equal(t, 1, m.dispatched)
	})

	t.Run("FaultReply", func(t *testing.T) {
		dir := shortTempDir(t)
		host := newTestHost(t, HostConfig{})
		path := filepath.Join(dir, "orders.sock")
		startPipe(t, PipeConfig{Path: path}, host, nil)

		err := sendPipe(t, path, "net.pipe://localhost/unknown", []byte("x"))
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultEndpointNotFound, fe.Fault)
	})

	t.Run("PublishesPipeName", func(t *testing.T) {
		dir := shortTempDir(t)
		host := newTestHost(t, HostConfig{})
		path := filepath.Join(dir, "orders.sock")
		shmPath := filepath.Join(dir, "orders.shm")
		startPipe(t, PipeConfig{Path: path, SharedMemoryPath: shmPath}, host, nil)

		require.Eventually(t, func() bool {
			name, err := pipe.LookupPipeName(shmPath)
			return err == nil && name == path
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("MaxConnections", func(t *testing.T) {
		dir := shortTempDir(t)
		host := newTestHost(t, HostConfig{})
		_, err := host.Endpoints().Register("pipe-orders", testPipeEndpoint)
		require.NoError(t, err)
		path := filepath.Join(dir, "orders.sock")
		a := startPipe(t, PipeConfig{Path: path, MaxConnections: 1}, host, nil)

		dialPipe(t, path)
		require.Eventually(t, func() bool { return a.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

		err = sendPipe(t, path, testPipeEndpoint, []byte("x"))
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultServerTooBusy, fe.Fault)
	})

	t.Run("StopClosesIdleConnectionsAndSocket", func(t *testing.T) {
		dir := shortTempDir(t)
		host := newTestHost(t, HostConfig{})
		path := filepath.Join(dir, "orders.sock")
		a := startPipe(t, PipeConfig{Path: path}, host, nil)

		c := dialPipe(t, path)
		require.Eventually(t, func() bool { return a.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(ctx))

		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, err := c.Read(make([]byte, 1))
		assert.Error(t, err)

		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("RequiresPath", func(t *testing.T) {
		assert.Panics(t, func() { NewPipeAdapter(PipeConfig{}, nil, nil, nil) })
	})
}
