package xiotcp

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// opcodeLabel maps a wire opcode byte to the label value used on
// per-opcode counters and histograms.
func opcodeLabel(opcode byte) string {
	switch opcode {
	case 0:
		return "send"
	case 1:
		return "read"
	case 2:
		return "write"
	default:
		return "unknown"
	}
}

// connLabels carries the constant label values attached to every
// metric emitted for one connection.
type connLabels struct {
	values []string
}

// PromObserver is a Prometheus collector wrapping one connection's
// datapath event stream: message delivery, send completion, inbound
// buffer assignment, and per-kind errors. Describe/Collect register on
// demand rather than pre-declaring every label combination, the same
// registry-of-live-entries shape as a TCPInfoCollector walking its
// tracked connections at scrape time.
type PromObserver struct {
	mu sync.Mutex

	labels connLabels

	messages        *prometheus.CounterVec
	messageBytes    *prometheus.CounterVec
	completions     *prometheus.CounterVec
	completionBytes *prometheus.CounterVec
	assignInBuf     *prometheus.CounterVec
	assignInBufFail *prometheus.CounterVec
	errorsByKind    *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// NewPromObserver builds a PromObserver whose metric names are
// prefixed with prefix (e.g. "xiotcp") and whose series carry
// variableLabels in addition to the fixed "opcode" and "kind" labels
// the observer itself attaches.
func NewPromObserver(prefix string, variableLabels []string, constLabels prometheus.Labels) *PromObserver {
	opLabels := append(append([]string{}, variableLabels...), "opcode")
	kindLabels := append(append([]string{}, variableLabels...), "kind")

	return &PromObserver{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_messages_total", prefix), Help: "Inbound messages delivered to the application, by opcode.", ConstLabels: constLabels,
		}, opLabels),
		messageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_message_bytes_total", prefix), Help: "Inbound payload bytes delivered to the application, by opcode.", ConstLabels: constLabels,
		}, opLabels),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_send_completions_total", prefix), Help: "Outbound send completions, by opcode.", ConstLabels: constLabels,
		}, opLabels),
		completionBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_send_completion_bytes_total", prefix), Help: "Outbound payload bytes completed, by opcode.", ConstLabels: constLabels,
		}, opLabels),
		assignInBuf: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_assign_in_buf_total", prefix), Help: "Attempts to assign an inbound READ-path buffer.", ConstLabels: constLabels,
		}, variableLabels),
		assignInBufFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_assign_in_buf_failures_total", prefix), Help: "Failed attempts to assign an inbound READ-path buffer.", ConstLabels: constLabels,
		}, variableLabels),
		errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_errors_total", prefix), Help: "Datapath errors, by kind.", ConstLabels: constLabels,
		}, kindLabels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: fmt.Sprintf("%s_latency_seconds", prefix), Help: "End-to-end latency of message and completion events.", ConstLabels: constLabels,
			Buckets: latencyBucketsSeconds(),
		}, opLabels),
		labels: connLabels{values: variableLabels},
	}
}

func latencyBucketsSeconds() []float64 {
	b := make([]float64, len(LatencyBuckets))
	for i, ns := range LatencyBuckets {
		b[i] = float64(ns) / 1e9
	}
	return b
}

// Describe implements prometheus.Collector.
func (o *PromObserver) Describe(descs chan<- *prometheus.Desc) {
	o.messages.Describe(descs)
	o.messageBytes.Describe(descs)
	o.completions.Describe(descs)
	o.completionBytes.Describe(descs)
	o.assignInBuf.Describe(descs)
	o.assignInBufFail.Describe(descs)
	o.errorsByKind.Describe(descs)
	o.latency.Describe(descs)
}

// Collect implements prometheus.Collector.
func (o *PromObserver) Collect(metrics chan<- prometheus.Metric) {
	o.messages.Collect(metrics)
	o.messageBytes.Collect(metrics)
	o.completions.Collect(metrics)
	o.completionBytes.Collect(metrics)
	o.assignInBuf.Collect(metrics)
	o.assignInBufFail.Collect(metrics)
	o.errorsByKind.Collect(metrics)
	o.latency.Collect(metrics)
}

func (o *PromObserver) labelValues(extra string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append(append([]string{}, o.labels.values...), extra)
}

func (o *PromObserver) NewMessage(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	lv := o.labelValues(opcodeLabel(opcode))
	o.messages.WithLabelValues(lv...).Inc()
	o.messageBytes.WithLabelValues(lv...).Add(float64(bytes))
	o.latency.WithLabelValues(lv...).Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) SendCompletion(tid uint16, opcode byte, bytes uint64, latencyNs uint64) {
	lv := o.labelValues(opcodeLabel(opcode))
	o.completions.WithLabelValues(lv...).Inc()
	o.completionBytes.WithLabelValues(lv...).Add(float64(bytes))
	o.latency.WithLabelValues(lv...).Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) AssignInBuf(tid uint16, bytes uint64, success bool) {
	o.mu.Lock()
	lv := append([]string{}, o.labels.values...)
	o.mu.Unlock()
	o.assignInBuf.WithLabelValues(lv...).Inc()
	if !success {
		o.assignInBufFail.WithLabelValues(lv...).Inc()
	}
}

func (o *PromObserver) Error(kind string, tid uint16) {
	lv := o.labelValues(kind)
	o.errorsByKind.WithLabelValues(lv...).Inc()
}

var _ interface {
	NewMessage(tid uint16, opcode byte, bytes uint64, latencyNs uint64)
	SendCompletion(tid uint16, opcode byte, bytes uint64, latencyNs uint64)
	AssignInBuf(tid uint16, bytes uint64, success bool)
	Error(kind string, tid uint16)
} = (*PromObserver)(nil)
