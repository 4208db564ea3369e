package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mrjoshuak/go-jpegxs/internal/bitio"
	"github.com/mrjoshuak/go-jpegxs/internal/dwt"
	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/pcs"
	"github.com/mrjoshuak/go-jpegxs/internal/queue"
)

// initLoop is the single-threaded Init stage spec.md §4.11 describes:
// it pulls one input frame per iteration, acquires a PCS, writes the
// frame's fixed-layout header/slice-header/EOC bytes (their content
// never depends on coefficient data, so writing them here rather than
// at Final keeps Final free of any bitio work), and dispatches one
// sliceTask per slice (plus, in CPU profile, one dwtTask per component
// per slice) to the Pack/DWT worker pools.
func (p *Pipeline) initLoop() error {
	for {
		w, err := p.inputFifo.GetFull(0)
		if err != nil {
			if err == queue.ErrShutdown {
				return nil
			}
			return err
		}
		frame := w.Obj

		<-p.freeSlots

		pcsW, err := p.pcsPool.Acquire()
		if err != nil {
			p.inputFifo.Release(w)
			if err == queue.ErrShutdown {
				return nil
			}
			return err
		}

		frame.FrameNumber = p.nextFrame()
		pcsW.Obj.Reset(frame.FrameNumber, p.outputLen, p.info.SliceNum)
		p.logger.Debug("pcs acquired", zap.Int64("frame", frame.FrameNumber))

		if err := p.writeFrameHeader(pcsW.Obj); err != nil {
			p.inputFifo.Release(w)
			return err
		}

		for s := 0; s < p.info.SliceNum; s++ {
			task := p.buildSliceTask(pcsW, frame, s)
			if p.cfg.Profile == ProfileCPU {
				task.barrier = semaphore.NewWeighted(int64(p.info.ComponentsNum))
				_ = task.barrier.Acquire(context.Background(), int64(p.info.ComponentsNum))
				task.dwtTiles = make([][]*dwt.PrecinctTile, p.info.ComponentsNum)
				task.dwtErrs = make([]error, p.info.ComponentsNum)
				for ci := 0; ci < p.info.ComponentsNum; ci++ {
					p.dwtTaskCh <- &dwtTask{slice: task, component: ci}
				}
			}
			p.packTaskCh <- task
		}

		p.inputFifo.Release(w)
	}
}

func (p *Pipeline) buildSliceTask(pcsW *queue.Wrapper[*pcs.PCS], frame *Frame, s int) *sliceTask {
	rowsStart := make([]int, p.info.ComponentsNum)
	rowsCount := make([]int, p.info.ComponentsNum)
	for ci, comp := range p.info.Components {
		compSliceHeight := p.info.SliceHeight / comp.SubY
		start := s * compSliceHeight
		count := compSliceHeight
		if start+count > comp.Height {
			count = comp.Height - start
		}
		rowsStart[ci] = start
		rowsCount[ci] = count
	}
	return &sliceTask{
		pcsW:        pcsW,
		frame:       frame,
		sliceIndex:  s,
		rowsStart:   rowsStart,
		rowsCount:   rowsCount,
		budgetBytes: p.sliceTotalBytes[s] - sliceHeaderBytes,
		outputOff:   p.sliceOffsets[s] + sliceHeaderBytes,
	}
}

// writeFrameHeader writes SOC..WGT, every slice's SLH, and EOC into
// pcsW's pre-sliced Output buffer. None of these bytes depend on the
// frame's coefficient data, so Init can write them all up front before
// any Pack worker has touched the buffer.
func (p *Pipeline) writeFrameHeader(obj *pcs.PCS) error {
	w := bitio.New(obj.Output[:p.headerLen])
	if err := markers.WriteSOC(w); err != nil {
		return err
	}
	if err := markers.WriteCAP(w, p.cfg.CapFlags); err != nil {
		return err
	}
	if err := markers.WritePIH(w, p.info, p.cfg.PIHParams); err != nil {
		return err
	}
	if err := markers.WriteCDT(w, p.info); err != nil {
		return err
	}
	if err := markers.WriteWGT(w, p.info); err != nil {
		return err
	}

	for s := 0; s < p.info.SliceNum; s++ {
		sw := bitio.New(obj.Output[p.sliceOffsets[s] : p.sliceOffsets[s]+sliceHeaderBytes])
		if err := markers.WriteSLH(sw, s); err != nil {
			return err
		}
	}

	ew := bitio.New(obj.Output[p.eocOffset:])
	return markers.WriteEOC(ew)
}
