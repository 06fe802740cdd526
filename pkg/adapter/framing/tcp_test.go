package framing

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/framingd/internal/protocol/framing"
	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/marmos91/framingd/pkg/transport"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type recordingFramingMetrics struct {
	mu         sync.Mutex
	accepted   int
	closed     int
	rejected   map[string]int
	forced     int
	preambles  map[string]int
	faults     map[string]int
	dispatched int
	bytesRecvd int64
	lastActive int32
}

func newRecordingFramingMetrics() *recordingFramingMetrics {
	return &recordingFramingMetrics{
		rejected:  map[string]int{},
		preambles: map[string]int{},
		faults:    map[string]int{},
	}
}

func (m *recordingFramingMetrics) RecordConnectionAccepted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
}

func (m *recordingFramingMetrics) RecordConnectionClosed(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *recordingFramingMetrics) RecordConnectionRejected(_ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingFramingMetrics) RecordConnectionForceClosed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced++
}

func (m *recordingFramingMetrics) SetActiveConnections(_ string, count int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = count
}

func (m *recordingFramingMetrics) RecordPreambleDecoded(_ string, mode string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preambles[mode]++
}

func (m *recordingFramingMetrics) RecordFault(_ string, fault string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[fault]++
}

func (m *recordingFramingMetrics) RecordMessageDispatched(string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched++
}

func (m *recordingFramingMetrics) RecordBytesReceived(_ string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesRecvd += n
}

func (m *recordingFramingMetrics) faultCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faults[name]
}

const (
	testEndpoint    = "net.tcp://localhost/orders"
	testContentType = "application/soap+msbin1"
)

func newTestHost(t *testing.T, cfg HostConfig) *Host {
	t.Helper()
	host := NewHost(cfg, nil, bufpool.NewPooledBufferManager(1<<20, 1<<16))
	_, err := host.Endpoints().Register("orders", testEndpoint)
	require.NoError(t, err)
	t.Cleanup(host.Close)
	return host
}

// asMetrics avoids handing a typed nil to the adapters.
func asMetrics(m *recordingFramingMetrics) metrics.FramingMetrics {
	if m == nil {
		return nil
	}
	return m
}

// startTCP runs a TCP adapter on an ephemeral loopback port.
func startTCP(t *testing.T, cfg TCPConfig, host *Host, m *recordingFramingMetrics) (*TCPAdapter, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg.MetricsLogInterval = -1
	a := NewTCPAdapter(cfg, host, asMetrics(m))

	done := make(chan error, 1)
	go func() { done <- a.serve(context.Background(), ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
		<-done
	})
	return a, ln.Addr().String()
}

func dialTCP(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c.(*net.TCPConn)
}

// exchange writes raw bytes, ends the output and returns everything the
// server sent back.
func exchange(t *testing.T, addr string, raw []byte) []byte {
	t.Helper()
	c := dialTCP(t, addr)
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := c.Write(raw)
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())

	reply, err := io.ReadAll(c)
	require.NoError(t, err)
	return reply
}

func requireFault(t *testing.T, reply []byte, want string) {
	t.Helper()
	fault, n, err := framing.ParseFault(reply)
	require.NoError(t, err)
	assert.Equal(t, want, fault)
	assert.Equal(t, len(reply), n)
}

func send(t *testing.T, addr, via string, body []byte) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return SendMessage(ctx, dialTCP(t, addr), via, testContentType, body)
}

func acceptMessage(t *testing.T, host *Host) *Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := host.Accept(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

// ============================================================================
// Message Delivery
// ============================================================================

func TestTCPAdapterDelivery(t *testing.T) {
	t.Run("DeliversMessage", func(t *testing.T) {
		m := newRecordingFramingMetrics()
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, m)

		body := []byte("<s:Envelope>hello</s:Envelope>")
		require.NoError(t, send(t, addr, testEndpoint+"/new", body))

		msg := acceptMessage(t, host)
		assert.Equal(t, "tcp", msg.Transport)
		assert.Equal(t, "orders", msg.Endpoint.Name)
		assert.Equal(t, testEndpoint+"/new", msg.Via.String())
		assert.Equal(t, testContentType, msg.ContentType)
		assert.Equal(t, framing.ModeSingletonSized, msg.Mode)
		assert.Equal(t, body, msg.Body)
		assert.NotZero(t, msg.ConnectionID)

		require.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.closed == 1 && m.lastActive == 0
		}, 2*time.Second, 5*time.Millisecond)
		m.mu.Lock()
		defer m.mu.Unlock()
		assert.Equal(t, 1, m.accepted)
		assert.Equal(t, 1, m.dispatched)
		assert.Equal(t, 1, m.preambles["SingletonSized"])
		assert.Positive(t, m.bytesRecvd)
	})

	t.Run("SmallReadBuffer", func(t *testing.T) {
		// Unpooled, so the read buffer really is 3 bytes.
		host := NewHost(HostConfig{ConnectionBufferSize: 3}, nil, nil)
		_, err := host.Endpoints().Register("orders", testEndpoint)
		require.NoError(t, err)
		t.Cleanup(host.Close)
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		body := make([]byte, 10000)
		for i := range body {
			body[i] = byte(i)
		}
		require.NoError(t, send(t, addr, testEndpoint, body))
		assert.Equal(t, body, acceptMessage(t, host).Body)
	})

	t.Run("EmptyBody", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		require.NoError(t, send(t, addr, testEndpoint, nil))
		assert.Empty(t, acceptMessage(t, host).Body)
	})

	t.Run("ConnectionIDsIncrease", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		require.NoError(t, send(t, addr, testEndpoint, []byte("a")))
		first := acceptMessage(t, host)
		require.NoError(t, send(t, addr, testEndpoint, []byte("b")))
		second := acceptMessage(t, host)
		assert.Greater(t, second.ConnectionID, first.ConnectionID)
	})
}

// ============================================================================
// Faults
// ============================================================================

func TestTCPAdapterFaults(t *testing.T) {
	t.Run("EndpointNotFound", func(t *testing.T) {
		m := newRecordingFramingMetrics()
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, m)

		err := send(t, addr, "net.tcp://localhost/billing", []byte("x"))
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultEndpointNotFound, fe.Fault)
		assert.Equal(t, 0, host.Pending())
		assert.Equal(t, 1, m.faultCount("EndpointNotFound"))
	})

	t.Run("UnsupportedMode", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		raw := framing.AppendPreamble(nil, framing.ModeDuplex)
		raw = framing.AppendSizedHeader(raw, testEndpoint, testContentType)
		requireFault(t, exchange(t, addr, raw), framing.FaultUnsupportedMode)
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		requireFault(t, exchange(t, addr, []byte{0x00, 0x02, 0x00, 0x01, 0x04}), framing.FaultUnsupportedVersion)
	})

	t.Run("ViaTooLong", func(t *testing.T) {
		host := newTestHost(t, HostConfig{Limits: framing.Limits{MaxViaLength: 16}})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		err := send(t, addr, testEndpoint+"/a/much/longer/path", nil)
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultViaTooLong, fe.Fault)
	})

	t.Run("ContentTypeInvalid", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		raw := framing.AppendPreamble(nil, framing.ModeSingletonSized)
		raw = framing.AppendVia(raw, testEndpoint)
		raw = append(raw, byte(framing.RecordTypeKnownEncoding), 0x7F)
		requireFault(t, exchange(t, addr, raw), framing.FaultContentTypeInvalid)
	})

	t.Run("MaxMessageSizeExceeded", func(t *testing.T) {
		host := newTestHost(t, HostConfig{MaxReceivedMessageSize: 8})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		err := send(t, addr, testEndpoint, make([]byte, 32))
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultMaxMessageSizeExceeded, fe.Fault)

		// Exactly at the limit is accepted.
		require.NoError(t, send(t, addr, testEndpoint, make([]byte, 8)))
	})

	t.Run("EndpointUnavailableAfterHostShutdown", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)
		host.Shutdown()

		err := send(t, addr, testEndpoint, []byte("late"))
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultEndpointUnavailable, fe.Fault)
	})

	t.Run("MalformedRecordDropsConnection", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		assert.Empty(t, exchange(t, addr, []byte{0x05, 0x01}))
	})

	t.Run("TruncatedHeaderDropsConnection", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{}, host, nil)

		raw := framing.AppendPreamble(nil, framing.ModeSingletonSized)
		raw = framing.AppendSizedHeader(raw, testEndpoint, testContentType)
		assert.Empty(t, exchange(t, addr, raw[:len(raw)-3]))
	})
}

// ============================================================================
// Admission
// ============================================================================

func TestTCPAdapterAdmission(t *testing.T) {
	t.Run("MaxConnections", func(t *testing.T) {
		m := newRecordingFramingMetrics()
		host := newTestHost(t, HostConfig{})
		a, addr := startTCP(t, TCPConfig{MaxConnections: 1}, host, m)

		holder := dialTCP(t, addr)
		require.Eventually(t, func() bool { return a.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

		err := send(t, addr, testEndpoint, []byte("x"))
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultServerTooBusy, fe.Fault)

		m.mu.Lock()
		assert.Equal(t, 1, m.rejected["max_connections"])
		m.mu.Unlock()

		// Releasing the slot admits the next connection.
		require.NoError(t, holder.Close())
		require.Eventually(t, func() bool { return a.ActiveConnections() == 0 }, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, send(t, addr, testEndpoint, []byte("y")))
	})

	t.Run("AcceptRate", func(t *testing.T) {
		m := newRecordingFramingMetrics()
		host := newTestHost(t, HostConfig{})
		_, addr := startTCP(t, TCPConfig{AcceptRate: 1, AcceptBurst: 1}, host, m)

		require.NoError(t, send(t, addr, testEndpoint, []byte("first")))

		err := send(t, addr, testEndpoint, []byte("second"))
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, framing.FaultServerTooBusy, fe.Fault)

		m.mu.Lock()
		assert.Equal(t, 1, m.rejected["rate_limited"])
		m.mu.Unlock()
	})

	t.Run("IdleTimeout", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		a, addr := startTCP(t, TCPConfig{IdleTimeout: 50 * time.Millisecond}, host, nil)

		c := dialTCP(t, addr)
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		reply, err := io.ReadAll(c)
		require.NoError(t, err)
		assert.Empty(t, reply)
		require.Eventually(t, func() bool { return a.ActiveConnections() == 0 }, 2*time.Second, 5*time.Millisecond)
	})
}

// ============================================================================
// Shutdown
// ============================================================================

func TestTCPAdapterShutdown(t *testing.T) {
	t.Run("IdleConnectionsClosed", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		a, addr := startTCP(t, TCPConfig{}, host, nil)

		c := dialTCP(t, addr)
		require.Eventually(t, func() bool { return a.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(ctx))

		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, err := c.Read(make([]byte, 1))
		assert.Error(t, err)
		assert.Equal(t, int32(0), a.ActiveConnections())
	})

	t.Run("InFlightMessageCompletes", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		a, addr := startTCP(t, TCPConfig{}, host, nil)

		raw := framing.AppendPreamble(nil, framing.ModeSingletonSized)
		raw = framing.AppendSizedHeader(raw, testEndpoint, testContentType)
		raw = append(raw, "body"...)

		c := dialTCP(t, addr)
		require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
		_, err := c.Write(raw[:3])
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			var receiving bool
			a.conns.Walk(func(tc *transport.TrackedConnection) {
				receiving = tc.Connection().(*conn).receiving.Load()
			})
			return receiving
		}, 2*time.Second, 5*time.Millisecond)

		stopped := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopped <- a.Stop(ctx)
		}()

		_, err = c.Write(raw[3:])
		require.NoError(t, err)
		require.NoError(t, c.CloseWrite())
		reply, err := io.ReadAll(c)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(framing.RecordTypePreambleAck)}, reply)

		assert.NoError(t, <-stopped)
		assert.Equal(t, "body", string(acceptMessage(t, host).Body))
	})

	t.Run("TimeoutForcesClose", func(t *testing.T) {
		m := newRecordingFramingMetrics()
		host := newTestHost(t, HostConfig{})
		a, addr := startTCP(t, TCPConfig{ShutdownTimeout: 100 * time.Millisecond}, host, m)

		c := dialTCP(t, addr)
		_, err := c.Write([]byte{0x00, 0x01})
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.bytesRecvd > 0
		}, 2*time.Second, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = a.Stop(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "force-closed")

		m.mu.Lock()
		assert.Equal(t, 1, m.forced)
		m.mu.Unlock()
	})

	t.Run("ContextCancellationStopsServe", func(t *testing.T) {
		host := newTestHost(t, HostConfig{})
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		a := NewTCPAdapter(TCPConfig{MetricsLogInterval: -1}, host, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.serve(ctx, ln) }()

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return")
		}
	})

	t.Run("StopBeforeServe", func(t *testing.T) {
		a := NewTCPAdapter(TCPConfig{}, newTestHost(t, HostConfig{}), nil)
		assert.NoError(t, a.Stop(context.Background()))
		assert.Equal(t, "tcp", a.Protocol())
		assert.Equal(t, ":808", a.Addr())
	})
}

func TestTCPConfigDefaults(t *testing.T) {
	cfg := TCPConfig{}
	cfg.applyDefaults()
	assert.Equal(t, DefaultTCPPort, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, cfg.validate())

	assert.Panics(t, func() {
		NewTCPAdapter(TCPConfig{MaxConnections: -1}, nil, nil)
	})
}
