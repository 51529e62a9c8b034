package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace  = "xdccget"
	subsystemTransfer = "transfer"
)

// Outcome labels mirror the terminal states a transfer can reach.
const (
	OutcomeCompleted   = "completed"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// TransferCollector keeps track of download statistics across all workers of
// a session and exposes them via Prometheus compatible collectors.
type TransferCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	startTime      time.Time
	bytesReceived  uint64
	diskWriteBytes uint64
	resumeRequests uint64
	activeWorkers  int64

	outcomes *prometheus.CounterVec
}

// TransferSnapshot represents a point-in-time view of the collected metrics.
type TransferSnapshot struct {
	Elapsed        time.Duration
	BytesReceived  uint64
	DiskWriteBytes uint64
	ResumeRequests uint64
	ActiveWorkers  int64
	ThroughputBps  float64
	ThroughputMbps float64
	DiskWriteBps   float64
}

// NewTransferCollector creates a collector and wires up prometheus collectors.
func NewTransferCollector(namespace string) *TransferCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	tc := &TransferCollector{
		namespace: namespace,
		registry:  reg,
	}
	tc.registerMetrics()
	return tc
}

// Registry returns the prometheus registry managed by this collector.
func (c *TransferCollector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveReceive records bytes read from a data connection.
func (c *TransferCollector) ObserveReceive(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.bytesReceived += uint64(bytes)
}

// ObserveDiskWrite records bytes written to local disk.
func (c *TransferCollector) ObserveDiskWrite(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.diskWriteBytes += uint64(bytes)
}

// ObserveResumeRequest counts DCC RESUME negotiations.
func (c *TransferCollector) ObserveResumeRequest() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resumeRequests++
	c.mu.Unlock()
}

// WorkerStarted and WorkerStopped track the number of live transfer workers.
func (c *TransferCollector) WorkerStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.activeWorkers++
	c.mu.Unlock()
}

func (c *TransferCollector) WorkerStopped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.activeWorkers > 0 {
		c.activeWorkers--
	}
	c.mu.Unlock()
}

// ObserveOutcome counts a transfer reaching a terminal state.
func (c *TransferCollector) ObserveOutcome(outcome string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
}

// Snapshot creates a read-only view of the collected metrics.
func (c *TransferCollector) Snapshot() TransferSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildSnapshotLocked(time.Now())
}

func (c *TransferCollector) buildSnapshotLocked(now time.Time) TransferSnapshot {
	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = now.Sub(c.startTime)
	}
	throughput := rateFromBytes(c.bytesReceived, elapsed)

	return TransferSnapshot{
		Elapsed:        elapsed,
		BytesReceived:  c.bytesReceived,
		DiskWriteBytes: c.diskWriteBytes,
		ResumeRequests: c.resumeRequests,
		ActiveWorkers:  c.activeWorkers,
		ThroughputBps:  throughput,
		ThroughputMbps: throughput * 8 / 1e6,
		DiskWriteBps:   rateFromBytes(c.diskWriteBytes, elapsed),
	}
}

func (c *TransferCollector) registerMetrics() {
	makeGauge := func(name, help string, valueFn func(TransferSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemTransfer,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked(time.Now()))
		})
	}

	makeCounter := func(name, help string, valueFn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemTransfer,
			Name:      name,
			Help:      help,
		}, valueFn)
	}

	c.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: subsystemTransfer,
		Name:      "outcomes_total",
		Help:      "Transfers that reached a terminal state, by outcome.",
	}, []string{"outcome"})
	c.registry.MustRegister(c.outcomes)

	c.registry.MustRegister(makeGauge(
		"throughput_bytes_per_second",
		"Average download throughput across all data connections.",
		func(s TransferSnapshot) float64 { return s.ThroughputBps },
	))
	c.registry.MustRegister(makeGauge(
		"disk_write_bytes_per_second",
		"Observed local disk write throughput.",
		func(s TransferSnapshot) float64 { return s.DiskWriteBps },
	))
	c.registry.MustRegister(makeGauge(
		"active_workers",
		"Transfer workers currently streaming.",
		func(s TransferSnapshot) float64 { return float64(s.ActiveWorkers) },
	))

	c.registry.MustRegister(makeCounter(
		"bytes_received_total",
		"Total bytes received over DCC data connections.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.bytesReceived)
		},
	))
	c.registry.MustRegister(makeCounter(
		"disk_write_bytes_total",
		"Bytes written to the local disk.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.diskWriteBytes)
		},
	))
	c.registry.MustRegister(makeCounter(
		"resume_requests_total",
		"DCC RESUME requests sent to bots.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.resumeRequests)
		},
	))
}

func (c *TransferCollector) ensureStartTimeLocked() {
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
}

func rateFromBytes(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 {
		return 0
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
