package xiotcp

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/xiotcp/datapath"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

var errorKinds = []datapath.ErrorKind{
	datapath.KindMsgSize,
	datapath.KindMsgInvalid,
	datapath.KindNoBufs,
	datapath.KindUserBufOverflow,
	datapath.KindNoUserBufs,
	datapath.KindPartialMsg,
	datapath.KindEIO,
	datapath.KindEDisconnect,
}

func errorKindIndex(kind datapath.ErrorKind) int {
	for i, k := range errorKinds {
		if k == kind {
			return i
		}
	}
	return -1
}

// Metrics tracks connection-level datapath statistics: message
// reception, send completion, inbound-buffer assignment, and errors
// by kind, per the four notification events named in spec.md §6.
type Metrics struct {
	MessageOps    atomic.Uint64
	MessageBytes  atomic.Uint64
	CompletionOps atomic.Uint64
	CompletionBytes atomic.Uint64

	AssignInBufOps      atomic.Uint64
	AssignInBufFailures atomic.Uint64

	ErrorsByKind [len(errorKinds)]atomic.Uint64
	TotalErrors  atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyHist    [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordMessage records an inbound message dispatched to the application.
func (m *Metrics) RecordMessage(bytes uint64, latencyNs uint64) {
	m.MessageOps.Add(1)
	m.MessageBytes.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordCompletion records an outbound task's delivered completion.
func (m *Metrics) RecordCompletion(bytes uint64, latencyNs uint64) {
	m.CompletionOps.Add(1)
	m.CompletionBytes.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordAssignInBuf records an attempt to supply an inbound buffer.
func (m *Metrics) RecordAssignInBuf(success bool) {
	m.AssignInBufOps.Add(1)
	if !success {
		m.AssignInBufFailures.Add(1)
	}
}

// RecordError records a datapath error by kind.
func (m *Metrics) RecordError(kind datapath.ErrorKind) {
	m.TotalErrors.Add(1)
	if i := errorKindIndex(kind); i >= 0 {
		m.ErrorsByKind[i].Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHist[i].Add(1)
		}
	}
}

// Stop marks the connection as stopped, fixing the uptime computed by
// subsequent Snapshot calls.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	MessageOps      uint64
	MessageBytes    uint64
	CompletionOps   uint64
	CompletionBytes uint64

	AssignInBufOps      uint64
	AssignInBufFailures uint64

	TotalErrors uint64
	ErrorsByKind map[datapath.ErrorKind]uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	MessageIOPS    float64
	CompletionIOPS float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		MessageOps:          m.MessageOps.Load(),
		MessageBytes:        m.MessageBytes.Load(),
		CompletionOps:       m.CompletionOps.Load(),
		CompletionBytes:     m.CompletionBytes.Load(),
		AssignInBufOps:      m.AssignInBufOps.Load(),
		AssignInBufFailures: m.AssignInBufFailures.Load(),
		TotalErrors:         m.TotalErrors.Load(),
		ErrorsByKind:        make(map[datapath.ErrorKind]uint64, len(errorKinds)),
	}

	for i, kind := range errorKinds {
		snap.ErrorsByKind[kind] = m.ErrorsByKind[i].Load()
	}

	snap.TotalOps = snap.MessageOps + snap.CompletionOps
	snap.TotalBytes = snap.MessageBytes + snap.CompletionBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.MessageIOPS = float64(snap.MessageOps) / uptimeSeconds
		snap.CompletionIOPS = float64(snap.CompletionOps) / uptimeSeconds
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHist[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHist[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHist[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, useful for testing.
func (m *Metrics) Reset() {
	m.MessageOps.Store(0)
	m.MessageBytes.Store(0)
	m.CompletionOps.Store(0)
	m.CompletionBytes.Store(0)
	m.AssignInBufOps.Store(0)
	m.AssignInBufFailures.Store(0)
	m.TotalErrors.Store(0)
	for i := range m.ErrorsByKind {
		m.ErrorsByKind[i].Store(0)
	}
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHist[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements interfaces.Observer using the built-in
// Metrics type.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) NewMessage(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	o.metrics.RecordMessage(bytes, latencyNs)
}

func (o *MetricsObserver) SendCompletion(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	o.metrics.RecordCompletion(bytes, latencyNs)
}

func (o *MetricsObserver) AssignInBuf(tid uint16, bytes uint64, success bool) {
	o.metrics.RecordAssignInBuf(success)
}

func (o *MetricsObserver) Error(kind string, tid uint16) {
	o.metrics.RecordError(datapath.ErrorKind(kind))
}

// NoOpObserver is a no-op implementation of interfaces.Observer, used
// as the default when no observer is configured.
type NoOpObserver struct{}

func (NoOpObserver) NewMessage(uint16, byte, uint64, uint64)      {}
func (NoOpObserver) SendCompletion(uint16, byte, uint64, uint64)  {}
func (NoOpObserver) AssignInBuf(uint16, uint64, bool)             {}
func (NoOpObserver) Error(string, uint16)                         {}
