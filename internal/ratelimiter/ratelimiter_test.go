package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name             string
		acceptsPerSecond uint
		burst            uint
		wantTokens       float64
	}{
		{name: "standard rate", acceptsPerSecond: 100, burst: 200, wantTokens: 200},
		{name: "burst defaults to rate", acceptsPerSecond: 50, burst: 0, wantTokens: 50},
		{name: "unlimited (zero rate)", acceptsPerSecond: 0, burst: 0, wantTokens: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.acceptsPerSecond, tt.burst, 0)
			require.NotNil(t, limiter)
			assert.InDelta(t, tt.wantTokens, limiter.Tokens(), 1)
			assert.Equal(t, 0, limiter.InUse())
		})
	}
}

// TestAdmit verifies that Admit enforces both the rate and the cap.
func TestAdmit(t *testing.T) {
	t.Run("RateLimited", func(t *testing.T) {
		limiter := New(1, 3, 0)

		for i := 0; i < 3; i++ {
			require.Equal(t, Admitted, limiter.Admit(), "admission %d is within burst", i)
		}
		assert.Equal(t, RateLimited, limiter.Admit())
		assert.Equal(t, 3, limiter.InUse(), "a rate refusal must not hold a slot")
	})

	t.Run("MaxConnections", func(t *testing.T) {
		limiter := New(0, 0, 2)

		require.Equal(t, Admitted, limiter.Admit())
		require.Equal(t, Admitted, limiter.Admit())
		assert.Equal(t, MaxConnections, limiter.Admit())

		limiter.Release()
		assert.Equal(t, Admitted, limiter.Admit())
		assert.Equal(t, 2, limiter.InUse())
	})

	t.Run("CapCheckedBeforeRate", func(t *testing.T) {
		limiter := New(1, 1, 1)

		require.Equal(t, Admitted, limiter.Admit())
		assert.Equal(t, MaxConnections, limiter.Admit())

		// The refused admission did not spend the next token, so once the
		// bucket refills the slot is usable again.
		limiter.Release()
		time.Sleep(1100 * time.Millisecond)
		assert.Equal(t, Admitted, limiter.Admit())
	})

	t.Run("Unlimited", func(t *testing.T) {
		limiter := New(0, 0, 0)
		for i := 0; i < 10000; i++ {
			require.Equal(t, Admitted, limiter.Admit())
		}
		assert.Equal(t, 10000, limiter.InUse())
	})
}

// TestWait verifies blocking admission.
func TestWait(t *testing.T) {
	t.Run("WaitsForToken", func(t *testing.T) {
		limiter := New(20, 1, 0)
		require.Equal(t, Admitted, limiter.Admit())

		start := time.Now()
		rejection, err := limiter.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Admitted, rejection)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
		assert.Equal(t, 2, limiter.InUse())
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		limiter := New(1, 1, 0)
		require.Equal(t, Admitted, limiter.Admit())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		rejection, err := limiter.Wait(ctx)
		assert.Error(t, err)
		assert.Equal(t, RateLimited, rejection)
		assert.Equal(t, 1, limiter.InUse())
	})

	t.Run("FullCapDoesNotWait", func(t *testing.T) {
		limiter := New(0, 0, 1)
		require.Equal(t, Admitted, limiter.Admit())

		rejection, err := limiter.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, MaxConnections, rejection)
	})
}

// TestSetRate verifies that the rate can be changed on a live limiter.
func TestSetRate(t *testing.T) {
	limiter := New(1, 1, 0)
	require.Equal(t, Admitted, limiter.Admit())
	require.Equal(t, RateLimited, limiter.Admit())

	limiter.SetRate(0, 0)
	assert.Equal(t, float64(-1), limiter.Tokens())
	assert.Equal(t, Admitted, limiter.Admit())

	limiter.SetRate(1000, 5)
	for i := 0; i < 5; i++ {
		require.Equal(t, Admitted, limiter.Admit())
	}
}

// TestConcurrentAdmit verifies the cap holds under concurrent callers.
func TestConcurrentAdmit(t *testing.T) {
	const (
		workers = 50
		maxConn = 10
	)
	limiter := New(0, 0, maxConn)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit() == Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxConn, admitted)
	assert.Equal(t, maxConn, limiter.InUse())
}
