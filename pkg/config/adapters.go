package config

import (
	"fmt"

	"github.com/marmos91/framingd/pkg/adapter"
	"github.com/marmos91/framingd/pkg/adapter/framing"
	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/metrics"
)

// CreateAdapters creates all enabled transport adapters from the configuration.
//
// All adapters deliver to host. buffers supplies the pipe pump buffers.
// framingMetrics may be nil for no metrics.
func CreateAdapters(cfg *Config, host *framing.Host, buffers bufpool.BufferManager, framingMetrics metrics.FramingMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.TCP.Enabled {
		adapters = append(adapters, framing.NewTCPAdapter(cfg.Adapters.TCP, host, framingMetrics))
	}

	if cfg.Adapters.Pipe.Enabled {
		adapters = append(adapters, framing.NewPipeAdapter(cfg.Adapters.Pipe, host, buffers, framingMetrics))
	}

	if len(adapters) == 0 && len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
