package pcs

import (
	"errors"
	"testing"
)

func TestReset_SizesBuffersAndResetsState(t *testing.T) {
	p := &PCS{}
	p.Reset(1, 100, 3)
	if len(p.Output) != 100 {
		t.Errorf("len(Output) = %d, want 100", len(p.Output))
	}
	if len(p.SliceReady) != 3 {
		t.Errorf("len(SliceReady) = %d, want 3", len(p.SliceReady))
	}
	if p.GetState() != InInit {
		t.Errorf("State = %v, want InInit", p.GetState())
	}
}

func TestMarkSliceReady_ReportsAllReadyOnce(t *testing.T) {
	p := &PCS{}
	p.Reset(1, 10, 2)

	if allReady := p.MarkSliceReady(0, nil); allReady {
		t.Fatal("expected allReady=false after only 1 of 2 slices")
	}
	if allReady := p.MarkSliceReady(1, nil); !allReady {
		t.Fatal("expected allReady=true after all slices ready")
	}
}

func TestMarkSliceReady_AggregatesErrors(t *testing.T) {
	p := &PCS{}
	p.Reset(1, 10, 2)

	errA := errors.New("slice 0 failed")
	p.MarkSliceReady(0, errA)
	p.MarkSliceReady(1, nil)

	if p.Err() == nil {
		t.Fatal("expected aggregated error after a failed slice")
	}
}

func TestPool_AcquireAndRelease(t *testing.T) {
	pool := NewPool(2)
	w1, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := pool.AcquireNonblocking(); err != nil {
		t.Fatalf("AcquireNonblocking: %v", err)
	}
	if _, err := pool.AcquireNonblocking(); err == nil {
		t.Fatal("expected pool exhaustion after acquiring both PCS objects")
	}
	pool.Release(w1)
	if _, err := pool.AcquireNonblocking(); err != nil {
		t.Fatalf("AcquireNonblocking after release: %v", err)
	}
}
