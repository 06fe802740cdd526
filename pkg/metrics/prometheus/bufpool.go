package prometheus

import (
	"strconv"

	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// bufferPoolCollector exports PooledBufferManager statistics at scrape time.
type bufferPoolCollector struct {
	pool *bufpool.PooledBufferManager

	limit     *prometheus.Desc
	count     *prometheus.Desc
	peak      *prometheus.Desc
	misses    *prometheus.Desc
	remaining *prometheus.Desc
}

// RegisterBufferPool exposes the size-class statistics of pool on the
// global registry. It is a no-op when metrics are disabled or pool is nil.
func RegisterBufferPool(pool *bufpool.PooledBufferManager) error {
	if !metrics.IsEnabled() || pool == nil {
		return nil
	}
	return metrics.GetRegistry().Register(newBufferPoolCollector(pool))
}

func newBufferPoolCollector(pool *bufpool.PooledBufferManager) *bufferPoolCollector {
	labels := []string{"buffer_size"}
	return &bufferPoolCollector{
		pool:      pool,
		limit:     prometheus.NewDesc("framingd_bufpool_class_limit", "Maximum number of pooled buffers in a size class", labels, nil),
		count:     prometheus.NewDesc("framingd_bufpool_class_buffers", "Buffers currently pooled in a size class", labels, nil),
		peak:      prometheus.NewDesc("framingd_bufpool_class_peak", "High-water mark of pooled buffers in a size class", labels, nil),
		misses:    prometheus.NewDesc("framingd_bufpool_class_misses", "Allocations a size class could not serve since the last tuning", labels, nil),
		remaining: prometheus.NewDesc("framingd_bufpool_remaining_bytes", "Pool budget not assigned to any size class", nil, nil),
	}
}

func (c *bufferPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.limit
	ch <- c.count
	ch <- c.peak
	ch <- c.misses
	ch <- c.remaining
}

func (c *bufferPoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.pool.Stats() {
		size := strconv.Itoa(s.BufferSize)
		ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(s.Limit), size)
		ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(s.Count), size)
		ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(s.Peak), size)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.GaugeValue, float64(s.Misses), size)
	}
	ch <- prometheus.MustNewConstMetric(c.remaining, prometheus.GaugeValue, float64(c.pool.RemainingMemory()))
}
