package config

import (
	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/metrics"
	promMetrics "github.com/marmos91/framingd/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// FramingMetrics is the collector for the framing adapters (never nil)
	FramingMetrics metrics.FramingMetrics

	// QueueMetrics is the collector for queue receivers (never nil)
	QueueMetrics metrics.QueueMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//   - Exports pool statistics when buffers is a pooled manager
//
// If metrics are disabled it returns a nil server and no-op implementations.
func InitializeMetrics(cfg *Config, buffers bufpool.BufferManager) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			FramingMetrics: metrics.NewNoopFramingMetrics(),
			QueueMetrics:   metrics.NewNoopQueueMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		BindAddress: cfg.Server.Metrics.BindAddress,
		Port:        cfg.Server.Metrics.Port,
	})

	if pooled, ok := buffers.(*bufpool.PooledBufferManager); ok {
		if err := promMetrics.RegisterBufferPool(pooled); err != nil {
			logger.Warn("Buffer pool metrics unavailable: %v", err)
		}
	}

	return &MetricsResult{
		Server:         server,
		FramingMetrics: promMetrics.NewFramingMetrics(),
		QueueMetrics:   promMetrics.NewQueueMetrics(),
	}
}
