package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransferCollectorCounts(t *testing.T) {
	c := NewTransferCollector("")
	c.ObserveReceive(100)
	c.ObserveReceive(-5)
	c.ObserveDiskWrite(100)
	c.ObserveResumeRequest()
	c.WorkerStarted()
	c.WorkerStarted()
	c.WorkerStopped()

	snap := c.Snapshot()
	if snap.BytesReceived != 100 || snap.DiskWriteBytes != 100 {
		t.Fatalf("unexpected byte counters: %+v", snap)
	}
	if snap.ResumeRequests != 1 {
		t.Fatalf("expected 1 resume request, got %d", snap.ResumeRequests)
	}
	if snap.ActiveWorkers != 1 {
		t.Fatalf("expected 1 active worker, got %d", snap.ActiveWorkers)
	}
}

func TestTransferCollectorOutcomes(t *testing.T) {
	c := NewTransferCollector("test")
	c.ObserveOutcome(OutcomeCompleted)
	c.ObserveOutcome(OutcomeCompleted)
	c.ObserveOutcome(OutcomeSkipped)

	if got := testutil.ToFloat64(c.outcomes.WithLabelValues(OutcomeCompleted)); got != 2 {
		t.Fatalf("expected 2 completed, got %v", got)
	}
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues(OutcomeSkipped)); got != 1 {
		t.Fatalf("expected 1 skipped, got %v", got)
	}
	if n, err := testutil.GatherAndCount(c.Registry()); err != nil || n == 0 {
		t.Fatalf("expected registered metrics, n=%d err=%v", n, err)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *TransferCollector
	c.ObserveReceive(10)
	c.ObserveDiskWrite(10)
	c.ObserveOutcome(OutcomeFailed)
	c.WorkerStarted()
	c.WorkerStopped()
}
