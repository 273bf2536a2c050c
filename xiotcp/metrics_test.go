package xiotcp

import (
	"testing"
	"time"

	"github.com/behrlich/xiotcp/datapath"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordMessage(1024, 1_000_000)    // 1KB message, 1ms latency
	m.RecordCompletion(2048, 2_000_000) // 2KB completion, 2ms latency
	m.RecordError(datapath.KindNoBufs)

	snap = m.Snapshot()

	if snap.MessageOps != 1 {
		t.Errorf("Expected 1 message op, got %d", snap.MessageOps)
	}
	if snap.CompletionOps != 1 {
		t.Errorf("Expected 1 completion op, got %d", snap.CompletionOps)
	}
	if snap.MessageBytes != 1024 {
		t.Errorf("Expected 1024 message bytes, got %d", snap.MessageBytes)
	}
	if snap.CompletionBytes != 2048 {
		t.Errorf("Expected 2048 completion bytes, got %d", snap.CompletionBytes)
	}
	if snap.TotalErrors != 1 {
		t.Errorf("Expected 1 total error, got %d", snap.TotalErrors)
	}
	if snap.ErrorsByKind[datapath.KindNoBufs] != 1 {
		t.Errorf("Expected 1 NO_BUFS error, got %d", snap.ErrorsByKind[datapath.KindNoBufs])
	}
}

func TestMetricsAssignInBuf(t *testing.T) {
	m := NewMetrics()

	m.RecordAssignInBuf(true)
	m.RecordAssignInBuf(false)
	m.RecordAssignInBuf(true)

	snap := m.Snapshot()
	if snap.AssignInBufOps != 3 {
		t.Errorf("Expected 3 assign-in-buf ops, got %d", snap.AssignInBufOps)
	}
	if snap.AssignInBufFailures != 1 {
		t.Errorf("Expected 1 assign-in-buf failure, got %d", snap.AssignInBufFailures)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordMessage(1024, 1_000_000)
	m.RecordCompletion(1024, 2_000_000)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordMessage(1024, 1_000_000)
	m.RecordCompletion(2048, 2_000_000)
	m.RecordError(datapath.KindEIO)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.TotalErrors != 0 {
		t.Errorf("Expected 0 errors after reset, got %d", snap.TotalErrors)
	}
}

func TestObserver(t *testing.T) {
	observer := NoOpObserver{}
	observer.NewMessage(1, 0, 1024, 1_000_000)
	observer.SendCompletion(1, 0, 1024, 1_000_000)
	observer.AssignInBuf(1, 1024, true)
	observer.Error(string(datapath.KindEIO), 1)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.NewMessage(1, 0, 1024, 1_000_000)
	metricsObserver.SendCompletion(1, 0, 2048, 2_000_000)

	snap := m.Snapshot()
	if snap.MessageOps != 1 {
		t.Errorf("Expected 1 message op from observer, got %d", snap.MessageOps)
	}
	if snap.CompletionOps != 1 {
		t.Errorf("Expected 1 completion op from observer, got %d", snap.CompletionOps)
	}
	if snap.MessageBytes != 1024 {
		t.Errorf("Expected 1024 message bytes from observer, got %d", snap.MessageBytes)
	}
	if snap.CompletionBytes != 2048 {
		t.Errorf("Expected 2048 completion bytes from observer, got %d", snap.CompletionBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordMessage(1024, 1_000_000)
	m.RecordCompletion(2048, 2_000_000)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.MessageIOPS < 0.9 || snap.MessageIOPS > 1.1 {
		t.Errorf("Expected MessageIOPS ~1.0, got %.2f", snap.MessageIOPS)
	}
	if snap.CompletionIOPS < 0.9 || snap.CompletionIOPS > 1.1 {
		t.Errorf("Expected CompletionIOPS ~1.0, got %.2f", snap.CompletionIOPS)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordMessage(1024, 500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordCompletion(1024, 5_000_000) // 5ms
	}
	m.RecordCompletion(1024, 50_000_000) // 50ms

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
