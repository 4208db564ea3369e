package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mrjoshuak/go-jpegxs/internal/bitio"
	"github.com/mrjoshuak/go-jpegxs/internal/dwt"
	"github.com/mrjoshuak/go-jpegxs/internal/packer"
	"github.com/mrjoshuak/go-jpegxs/internal/pcs"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/precinct"
	"github.com/mrjoshuak/go-jpegxs/internal/queue"
	"github.com/mrjoshuak/go-jpegxs/internal/ratecontrol"

	"github.com/pkg/errors"
)

// sliceTask is one slice's worth of work, handed to exactly one Pack
// worker. In CPU profile its dwtTiles/dwtErrs are filled in by the DWT
// worker pool before the Pack worker is allowed past barrier.
type sliceTask struct {
	pcsW  *queue.Wrapper[*pcs.PCS]
	frame *Frame

	sliceIndex  int
	rowsStart   []int
	rowsCount   []int
	budgetBytes int
	outputOff   int

	barrier  *semaphore.Weighted
	dwtTiles [][]*dwt.PrecinctTile
	dwtErrs  []error
}

// dwtTask is one component's DWT work for one slice, CPU profile only.
type dwtTask struct {
	slice     *sliceTask
	component int
}

func (p *Pipeline) dwtLoop(ctx context.Context) error {
	for task := range p.dwtTaskCh {
		tiles, err := p.computeComponentTiles(task.slice, task.component)
		task.slice.dwtTiles[task.component] = tiles
		task.slice.dwtErrs[task.component] = err
		task.slice.barrier.Release(1)
	}
	return nil
}

func (p *Pipeline) packLoop(ctx context.Context) error {
	for task := range p.packTaskCh {
		err := p.packSlice(ctx, task)
		if err != nil {
			p.logger.Warn("slice pack failed",
				zap.Int64("frame", task.frame.FrameNumber),
				zap.Int("slice", task.sliceIndex),
				zap.Error(err))
		}
		allReady := task.pcsW.Obj.MarkSliceReady(task.sliceIndex, err)
		select {
		case p.finalCh <- finalEvent{frameNumber: task.frame.FrameNumber, pcsW: task.pcsW, allReady: allReady}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// packSlice runs DWT (or waits for it, in CPU profile), rate control,
// quantization, and packing for every precinct in one slice, per
// spec.md §4.11's Pack stage.
func (p *Pipeline) packSlice(ctx context.Context, task *sliceTask) error {
	var componentTiles [][]*dwt.PrecinctTile

	if p.cfg.Profile == ProfileCPU {
		if err := task.barrier.Acquire(ctx, int64(p.info.ComponentsNum)); err != nil {
			return errors.Wrap(err, "pipeline: waiting on dwt barrier")
		}
		for ci, err := range task.dwtErrs {
			if err != nil {
				return errors.Wrapf(err, "component %d dwt", ci)
			}
		}
		componentTiles = task.dwtTiles
	} else {
		tiles, err := p.computeSliceTiles(task)
		if err != nil {
			return err
		}
		componentTiles = tiles
	}

	precincts := buildSlicePrecincts(p.info, componentTiles)

	var (
		budgets      []int
		sliceResults [][][]ratecontrol.BandResult
	)
	switch p.cfg.RCMode {
	case ratecontrol.PerSliceCommonQuant, ratecontrol.PerSliceMaxRate:
		// Both modes share one (quantization, refinement) pair across
		// the whole slice, found by a single slice-wide search rather
		// than SearchPrecinct's independent per-precinct one.
		results, used, err := ratecontrol.SearchSlice(p.cfg.RCConfig, precincts, p.info, task.budgetBytes)
		if err != nil {
			return errors.Wrapf(err, "slice %d", task.sliceIndex)
		}
		sliceResults = results
		budgets = ratecontrol.PrecinctBudgets(p.cfg.RCMode, task.budgetBytes, len(precincts), used)
		if p.cfg.RCMode == ratecontrol.PerSliceMaxRate {
			budgets = ratecontrol.ApplyMaxRatio(budgets, used)
		}
	default:
		budgets = ratecontrol.PrecinctBudgets(p.cfg.RCMode, task.budgetBytes, len(precincts), nil)
	}

	w := bitio.New(task.pcsW.Obj.Output[task.outputOff : task.outputOff+task.budgetBytes])
	for i, prec := range precincts {
		var results [][]ratecontrol.BandResult
		if sliceResults != nil {
			results = sliceResults[i]
		} else {
			// A fresh Controller per precinct: its size-2 gtli cache is
			// only valid across probes of the same coefficient data, not
			// across different precincts.
			rc := ratecontrol.New(p.cfg.RCConfig)
			r, err := rc.SearchPrecinct(prec, p.info, budgets[i])
			if err != nil {
				return errors.Wrapf(err, "slice %d precinct %d", task.sliceIndex, i)
			}
			results = r
		}

		opts := p.cfg.PackerOpts
		opts.UseShortHeader = p.info.UseShortHeader
		opts.PadToBytes = budgets[i]
		if err := packer.WritePrecinct(w, p.info, prec, results, opts); err != nil {
			return errors.Wrapf(err, "slice %d precinct %d", task.sliceIndex, i)
		}
	}
	return nil
}

// computeComponentTiles runs one component's DWT Stage across task's row
// range, padding with the last row if rowsCount isn't a multiple of the
// stage's RowsPerPrecinct (the image's bottom edge, or the simplified
// cross-component precinct reconciliation buildSlicePrecincts performs
// for subsampled components — see DESIGN.md).
func (p *Pipeline) computeComponentTiles(task *sliceTask, ci int) ([]*dwt.PrecinctTile, error) {
	comp := p.info.Components[ci]
	stage, err := dwt.NewStage(comp.Width, p.info.DecomH, p.info.DecomV, p.cfg.PIHParams.Fq)
	if err != nil {
		return nil, err
	}

	rowStart := task.rowsStart[ci]
	rowCount := task.rowsCount[ci]
	if rowCount <= 0 {
		// This component contributes nothing in this slice (fully
		// subsampled past the component's bottom edge); buildSlicePrecincts
		// treats a zero-tile component as absent from this slice.
		return nil, nil
	}
	plane := task.frame.Planes[ci]

	var tiles []*dwt.PrecinctTile
	pushRow := func(rowIdx int) error {
		if rowIdx >= comp.Height {
			rowIdx = comp.Height - 1
		}
		row := plane[rowIdx*comp.Width : (rowIdx+1)*comp.Width]
		tile, ok, err := stage.PushRow(row)
		if err != nil {
			return err
		}
		if ok {
			tiles = append(tiles, tile)
		}
		return nil
	}

	for r := 0; r < rowCount; r++ {
		if err := pushRow(rowStart + r); err != nil {
			return nil, err
		}
	}
	for stage.Flush() {
		if err := pushRow(rowStart + rowCount - 1); err != nil {
			return nil, err
		}
	}
	return tiles, nil
}

func (p *Pipeline) computeSliceTiles(task *sliceTask) ([][]*dwt.PrecinctTile, error) {
	out := make([][]*dwt.PrecinctTile, p.info.ComponentsNum)
	for ci := 0; ci < p.info.ComponentsNum; ci++ {
		tiles, err := p.computeComponentTiles(task, ci)
		if err != nil {
			return nil, err
		}
		out[ci] = tiles
	}
	return out, nil
}

// buildSlicePrecincts zips each component's per-precinct tiles into one
// precinct.Precinct per index, chaining Top within the slice only (so
// slices stay independently packable by concurrent Pack workers).
// Components whose subsampling gives them fewer precincts than the
// slice's longest component repeat their last tile for the remaining
// indices — a documented simplification; see DESIGN.md.
func buildSlicePrecincts(info *pi.Info, componentTiles [][]*dwt.PrecinctTile) []*precinct.Precinct {
	count := 0
	for _, tiles := range componentTiles {
		if len(tiles) > count {
			count = len(tiles)
		}
	}

	precincts := make([]*precinct.Precinct, count)
	var prev *precinct.Precinct
	for idx := 0; idx < count; idx++ {
		prec := precinct.New(info, idx)
		prec.Top = prev

		for ci, tiles := range componentTiles {
			if len(tiles) == 0 {
				continue
			}
			tile := tiles[len(tiles)-1]
			if idx < len(tiles) {
				tile = tiles[idx]
			}
			for bi, lines := range tile.BandLines {
				for _, line := range lines {
					prec.AppendLine(ci, bi, line)
				}
			}
		}

		precincts[idx] = prec
		prev = prec
	}
	return precincts
}
