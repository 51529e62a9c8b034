package xdcc

import (
	"errors"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/jgoldverg/xdccget/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPendingResumesPutTake(t *testing.T) {
	p := NewPendingResumes()
	a := &Descriptor{Filename: "a.mkv", IP: net.IPv4(10, 0, 0, 1), Port: "5000", Offset: 10}

	if _, replaced := p.Put("5000", a); replaced {
		t.Fatalf("first insert should not replace")
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", p.Len())
	}
	if _, ok := p.Take("5001"); ok {
		t.Fatalf("unknown port must not match")
	}
	got, ok := p.Take("5000")
	if !ok || got != a {
		t.Fatalf("expected stored descriptor back")
	}
	if _, ok := p.Take("5000"); ok {
		t.Fatalf("entry should be removed after take")
	}
	if a.Addr() != "10.0.0.1:5000" {
		t.Fatalf("unexpected addr %s", a.Addr())
	}
}

func TestPendingResumesReplaceAndDrain(t *testing.T) {
	p := NewPendingResumes()
	first := &Descriptor{Filename: "a"}
	second := &Descriptor{Filename: "b"}
	p.Put("1", first)
	prev, replaced := p.Put("1", second)
	if !replaced || prev != first {
		t.Fatalf("expected the first entry to be replaced")
	}
	p.Put("2", &Descriptor{Filename: "c"})

	if drained := p.Drain(); len(drained) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(drained))
	}
	if p.Len() != 0 {
		t.Fatalf("table should be empty after drain")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	collector := metrics.NewTransferCollector("")
	r := newRegistry(collector)

	id := r.create("a.mkv", 100, 0)
	if err := r.start(id, 40); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.finish(id, StatusRunning, 0, nil); err == nil {
		t.Fatalf("non-terminal status should be rejected")
	}
	if err := r.finish(id, StatusCompleted, 100, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := r.finish(id, StatusFailed, 0, nil); !errors.Is(err, ErrTransferAlreadyFinished) {
		t.Fatalf("expected ErrTransferAlreadyFinished, got %v", err)
	}
	if err := r.start(id, 0); !errors.Is(err, ErrTransferAlreadyFinished) {
		t.Fatalf("restart should fail, got %v", err)
	}

	snap, ok := r.get(id)
	if !ok || snap.Offset != 40 || snap.Received != 100 || snap.Status != StatusCompleted {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.CompletedAt.IsZero() || snap.StartedAt.IsZero() {
		t.Fatalf("timestamps not recorded: %+v", snap)
	}

	failed := r.create("b.mkv", 10, 0)
	_ = r.finish(failed, StatusFailed, 3, errors.New("boom"))

	report := &Report{Requested: 2, Transfers: r.snapshots()}
	if report.Count(StatusCompleted) != 1 || report.Failed() != 1 {
		t.Fatalf("unexpected report counts: %+v", report.Transfers)
	}
	if report.Transfers[1].Error != "boom" {
		t.Fatalf("error not recorded")
	}
	if got, err := testutil.GatherAndCount(collector.Registry(), "xdccget_transfer_outcomes_total"); err != nil || got != 2 {
		t.Fatalf("expected 2 outcome series, got %d (%v)", got, err)
	}
}

func TestRegistryUnknownID(t *testing.T) {
	r := newRegistry(nil)
	id := r.create("x", 1, 0)
	if err := r.finish(uuid.New(), StatusCompleted, 1, nil); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
	if _, ok := r.get(id); !ok {
		t.Fatalf("known id should resolve")
	}
}

func TestStatusAndStateStrings(t *testing.T) {
	if StatusSkipped.String() != "skipped" || !StatusSkipped.Terminal() || StatusRunning.Terminal() {
		t.Fatalf("unexpected status semantics")
	}
	if StateAwaitingWelcomeEnd.String() != "awaiting-welcome-end" || !StateCancelled.Terminal() || StateClosing.Terminal() {
		t.Fatalf("unexpected state semantics")
	}
}
