// Package monitoring collects Prometheus metrics for the reconstruction
// pipeline: per-stage frame counters, latency histograms, queue depths and
// drop counters. The collector implements the pipeline's Observer contract
// and additionally keeps a snapshot for the status API.
package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	StageLatency    *prometheus.HistogramVec
	QueueDepthGauge *prometheus.GaugeVec
	PacketsLost     prometheus.Counter
	PoolFree        *prometheus.GaugeVec
	Uptime          prometheus.Gauge

	startTime time.Time

	mu       sync.RWMutex
	snapshot map[string]*StageStats
}

// StageStats is the per-stage view served by the status API.
type StageStats struct {
	Name      string  `json:"name"`
	Frames    uint64  `json:"frames"`
	Dropped   uint64  `json:"dropped"`
	Depth     int     `json:"queueDepth"`
	LatencyMs float64 `json:"lastLatencyMs"`
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),
		snapshot:  make(map[string]*StageStats),

		FramesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risa_frames_processed_total",
				Help: "Frames processed per stage and device",
			},
			[]string{"stage", "device"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risa_frames_dropped_total",
				Help: "Frames dropped per stage and reason",
			},
			[]string{"stage", "reason"},
		),
		StageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "risa_stage_latency_seconds",
				Help:    "Source-to-stage latency of processed frames",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"stage"},
		),
		QueueDepthGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "risa_queue_depth",
				Help: "Input queue depth per stage and device",
			},
			[]string{"stage", "device"},
		),
		PacketsLost: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "risa_packets_lost_total",
				Help: "Detector packets lost or received out of order",
			},
		),
		PoolFree: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "risa_pool_free_buffers",
				Help: "Free buffers per memory pool registration",
			},
			[]string{"domain", "registration"},
		),
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "risa_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}
	return m
}

// Registry exposes the metrics registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FrameProcessed records a processed frame.
func (m *Metrics) FrameProcessed(stage string, deviceID int, latency time.Duration) {
	m.FramesProcessed.WithLabelValues(stage, strconv.Itoa(deviceID)).Inc()
	m.StageLatency.WithLabelValues(stage).Observe(latency.Seconds())

	m.mu.Lock()
	s := m.stageLocked(stage)
	s.Frames++
	s.LatencyMs = float64(latency.Microseconds()) / 1000
	m.mu.Unlock()
}

// FrameDropped records a dropped frame.
func (m *Metrics) FrameDropped(stage string, reason string) {
	m.FramesDropped.WithLabelValues(stage, reason).Inc()

	m.mu.Lock()
	m.stageLocked(stage).Dropped++
	m.mu.Unlock()
}

// QueueDepth records the current depth of a stage's device queue.
func (m *Metrics) QueueDepth(stage string, deviceID int, depth int) {
	m.QueueDepthGauge.WithLabelValues(stage, strconv.Itoa(deviceID)).Set(float64(depth))

	m.mu.Lock()
	m.stageLocked(stage).Depth = depth
	m.mu.Unlock()
}

// SetPoolFree records the free-buffer count of a pool registration.
func (m *Metrics) SetPoolFree(domain string, registration int, free int) {
	m.PoolFree.WithLabelValues(domain, strconv.Itoa(registration)).Set(float64(free))
}

// Stages returns a copy of the per-stage snapshot.
func (m *Metrics) Stages() []StageStats {
	m.Uptime.Set(time.Since(m.startTime).Seconds())

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StageStats, 0, len(m.snapshot))
	for _, s := range m.snapshot {
		out = append(out, *s)
	}
	return out
}

// StartTime returns the collector's start time.
func (m *Metrics) StartTime() time.Time { return m.startTime }

func (m *Metrics) stageLocked(stage string) *StageStats {
	s, ok := m.snapshot[stage]
	if !ok {
		s = &StageStats{Name: stage}
		m.snapshot[stage] = s
	}
	return s
}
