package pipeline

import (
	"go.uber.org/zap"

	"github.com/mrjoshuak/go-jpegxs/internal/pcs"
	"github.com/mrjoshuak/go-jpegxs/internal/queue"
)

// finalEvent notifies the Final stage that one slice of one frame has
// finished packing (successfully or not); allReady reports whether this
// was the frame's last outstanding slice.
type finalEvent struct {
	frameNumber int64
	pcsW        *queue.Wrapper[*pcs.PCS]
	allReady    bool
}

// framestate is Final's per-frame bookkeeping: which slice it's waiting
// to emit next (per-slice packetization) and whether the frame header
// packet has already gone out. Exclusively owned and mutated by the
// Final goroutine.
type framestate struct {
	frameNumber   int64
	pcsW          *queue.Wrapper[*pcs.PCS]
	nextSlice     int
	headerEmitted bool
}

// finalLoop is the single-threaded Final stage: it holds the reorder
// ring (size PoolSize+10, per spec.md §9) and only emits packets for the
// lowest not-yet-completed frame number, so get_packet always observes
// frame_number in input order.
func (p *Pipeline) finalLoop() error {
	ringSize := int64(p.cfg.PoolSize + 10)
	ring := make(map[int64]*framestate)
	var currentFrame int64

	for ev := range p.finalCh {
		fs, ok := ring[ev.frameNumber%ringSize]
		if !ok || fs.frameNumber != ev.frameNumber {
			fs = &framestate{frameNumber: ev.frameNumber, pcsW: ev.pcsW}
			ring[ev.frameNumber%ringSize] = fs
		}
		p.tryEmit(fs, &currentFrame, ring, ringSize)
	}
	return nil
}

func (p *Pipeline) tryEmit(fs *framestate, currentFrame *int64, ring map[int64]*framestate, ringSize int64) {
	if fs.frameNumber != *currentFrame {
		return
	}

	obj := fs.pcsW.Obj

	if p.cfg.SlicePacketization {
		if !fs.headerEmitted {
			header := append([]byte(nil), obj.Output[:p.headerLen]...)
			p.emitPacket(&Packet{FrameNumber: fs.frameNumber, Data: header})
			fs.headerEmitted = true
		}
		for fs.nextSlice < p.info.SliceNum && obj.SliceReady[fs.nextSlice] {
			start := p.sliceOffsets[fs.nextSlice]
			end := start + p.sliceTotalBytes[fs.nextSlice]
			last := fs.nextSlice == p.info.SliceNum-1

			var data []byte
			if last {
				data = append([]byte(nil), obj.Output[start:end]...)
				data = append(data, obj.Output[p.eocOffset:]...)
			} else {
				data = append([]byte(nil), obj.Output[start:end]...)
			}

			var err error
			if last {
				err = obj.Err()
			}
			p.emitPacket(&Packet{FrameNumber: fs.frameNumber, Data: data, LastPacketInFrame: last, Err: err})
			fs.nextSlice++
		}
		if fs.nextSlice == p.info.SliceNum {
			p.finishFrame(fs, currentFrame, ring, ringSize)
		}
		return
	}

	for i := 0; i < p.info.SliceNum; i++ {
		if !obj.SliceReady[i] {
			return
		}
	}
	data := append([]byte(nil), obj.Output...)
	p.emitPacket(&Packet{FrameNumber: fs.frameNumber, Data: data, LastPacketInFrame: true, Err: obj.Err()})
	p.finishFrame(fs, currentFrame, ring, ringSize)
}

func (p *Pipeline) finishFrame(fs *framestate, currentFrame *int64, ring map[int64]*framestate, ringSize int64) {
	p.logger.Debug("frame emitted", zap.Int64("frame", fs.frameNumber), zap.Error(fs.pcsW.Obj.Err()))
	p.pcsPool.Release(fs.pcsW)
	delete(ring, fs.frameNumber%ringSize)
	select {
	case p.freeSlots <- struct{}{}:
	default:
	}
	*currentFrame++

	if next, ok := ring[*currentFrame%ringSize]; ok && next.frameNumber == *currentFrame {
		p.tryEmit(next, currentFrame, ring, ringSize)
	}
}

func (p *Pipeline) emitPacket(pkt *Packet) {
	w, err := p.outputFifo.GetEmpty(0)
	if err != nil {
		return
	}
	w.Obj = pkt
	w.SetLiveCount(1)
	_ = p.outputFifo.PostFull(w)
}
