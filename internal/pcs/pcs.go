// Package pcs implements the PictureControlSet spec.md §3/§4.11
// describes: the per-frame state Init allocates from a fixed pool,
// DWT/Pack workers populate slice-by-slice, and Final drains in frame
// order before returning it to the pool.
//
// Grounded on the teacher's tcd.go TileCoder, which plays the same
// "one struct holds everything a tile's workers touch, state machine
// advances as stages finish" role for JPEG 2000 tiles; here the state
// machine is explicit (State) instead of implicit in which fields are
// populated, since JPEG XS's CPU profile adds a DWT phase JPEG 2000's
// single-pass tile coder doesn't need to model.
package pcs

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/mrjoshuak/go-jpegxs/internal/queue"
)

// State is one PCS's position in the Init -> InDwt -> InPack ->
// EmittedInOrder -> Released lifecycle spec.md §4.11 describes.
type State int

const (
	Empty State = iota
	InInit
	InDwt
	InPack
	EmittedInOrder
	Released
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case InInit:
		return "InInit"
	case InDwt:
		return "InDwt"
	case InPack:
		return "InPack"
	case EmittedInOrder:
		return "EmittedInOrder"
	case Released:
		return "Released"
	default:
		return "Unknown"
	}
}

// PCS holds one in-flight frame's state: the output bitstream window
// Init pre-sliced for it, per-slice completion tracking, and the
// aggregated per-frame error multierr collects as slices fail
// independently.
type PCS struct {
	mu sync.Mutex

	FrameNumber int64
	State       State

	// Output is the full frame's pre-sliced bitstream buffer; each
	// slice's pack worker owns a disjoint sub-slice of it, computed by
	// Init from PictureInfo's per-slice byte budget.
	Output []byte

	// SliceReady[i] is set once slice i's pack worker (and, in
	// per-slice packetization mode, Final's emission of it) has
	// completed. Len == info.SliceNum.
	SliceReady []bool

	// FrameError aggregates every slice's error via multierr; a frame
	// with a non-nil FrameError is still emitted, per spec.md §7's
	// propagation rule, with EncodeFrameError on its output event.
	FrameError error
}

// Reset clears a PCS for reuse, sizing SliceReady to sliceNum and Output
// to the given byte length.
func (p *PCS) Reset(frameNumber int64, outputLen, sliceNum int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.FrameNumber = frameNumber
	p.State = InInit
	if cap(p.Output) < outputLen {
		p.Output = make([]byte, outputLen)
	} else {
		p.Output = p.Output[:outputLen]
	}
	if cap(p.SliceReady) < sliceNum {
		p.SliceReady = make([]bool, sliceNum)
	} else {
		p.SliceReady = p.SliceReady[:sliceNum]
		for i := range p.SliceReady {
			p.SliceReady[i] = false
		}
	}
	p.FrameError = nil
}

// SetState advances the PCS's lifecycle state.
func (p *PCS) SetState(s State) {
	p.mu.Lock()
	p.State = s
	p.mu.Unlock()
}

// GetState returns the PCS's current lifecycle state.
func (p *PCS) GetState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}

// MarkSliceReady records slice i's completion (possibly with an error,
// which is folded into FrameError) and reports whether every slice in
// the frame is now ready.
func (p *PCS) MarkSliceReady(i int, err error) (allReady bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.FrameError = multierr.Append(p.FrameError, err)
	}
	p.SliceReady[i] = true
	for _, ready := range p.SliceReady {
		if !ready {
			return false
		}
	}
	return true
}

// Err returns the frame's aggregated error, if any slice failed.
func (p *PCS) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.FrameError
}

// Pool is the fixed-size PCS pool spec.md §4.3 describes: acquired by
// Init, released by Final once a frame's last slice has emitted. It
// wraps queue.Fifo so acquisition blocks (or fails EmptyQueue in
// non-blocking mode) exactly like every other bounded resource in the
// pipeline.
type Pool struct {
	fifo *queue.Fifo[*PCS]
}

// NewPool allocates size PCS objects up front.
func NewPool(size int) *Pool {
	items := make([]*PCS, size)
	for i := range items {
		items[i] = &PCS{}
	}
	return &Pool{fifo: queue.New(items, size)}
}

// Acquire blocks until a PCS is free, or returns queue.ErrShutdown if
// the pool has been shut down.
func (p *Pool) Acquire() (*queue.Wrapper[*PCS], error) {
	return p.fifo.GetEmpty(0)
}

// AcquireNonblocking returns queue.ErrEmpty immediately if no PCS is
// free.
func (p *Pool) AcquireNonblocking() (*queue.Wrapper[*PCS], error) {
	return p.fifo.GetEmptyNonblocking(0)
}

// Release returns a PCS wrapper to the pool once Final has emitted the
// frame's last packet.
func (p *Pool) Release(w *queue.Wrapper[*PCS]) {
	p.fifo.Release(w)
}

// Shutdown wakes every blocked Acquire call with queue.ErrShutdown.
func (p *Pool) Shutdown() {
	p.fifo.Shutdown()
}
