package jpegxs

import (
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/packer"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/pipeline"
	"github.com/mrjoshuak/go-jpegxs/internal/ratecontrol"
)

// Frame is one input picture: one flat, row-major plane per picture
// component, already subsampled to that component's geometry (see
// GetImageConfig). Callers should leave FrameNumber zero; the encoder
// assigns it in submission order.
type Frame = pipeline.Frame

// Packet is one output event: either a whole frame (full-frame
// packetization) or one slice's worth of bytes (per-slice
// packetization).
type Packet = pipeline.Packet

// Stats reports the encoder's internal counters. This is a plain
// snapshot, not a reporting subsystem — progress/latency reporting
// remains an external, non-goal concern; these are cheap counters an
// embedding caller may surface however it likes.
type Stats struct {
	FramesSubmitted int64
	FramesEmitted   int64

	// HighWaterMark is the largest number of PCS objects observed
	// simultaneously in flight.
	HighWaterMark int64
}

// AllocStats is the optional per-call-site allocation counter spec.md
// §9's "global malloc-tracking table" note describes, engaged only via
// WithAllocStats. It counts PCS pool acquisitions and releases; it does
// not track byte sizes or hook the Go runtime allocator, since the
// pools here are fixed-size and pre-allocated at Init.
type AllocStats struct {
	pcsAcquired int64
	pcsReleased int64
}

// Acquired returns the number of PCS acquisitions observed so far.
func (a *AllocStats) Acquired() int64 { return atomic.LoadInt64(&a.pcsAcquired) }

// Released returns the number of PCS releases observed so far.
func (a *AllocStats) Released() int64 { return atomic.LoadInt64(&a.pcsReleased) }

// Encoder is a running encoder instance: construct with NewEncoder
// (spec.md §6's init), feed frames with SendPicture, drain packets with
// GetPacket, and shut down with Close.
type Encoder struct {
	p    *pipeline.Pipeline
	info *pi.Info

	logger     *zap.Logger
	traceSink  io.Closer
	allocStats *AllocStats

	mu              sync.Mutex
	framesSubmitted int64
	framesEmitted   int64
	highWaterMark   int64
	inflight        int64

	closeOnce sync.Once
}

// NewEncoder implements spec.md §6's init: it validates opts, builds the
// Picture Info, allocates every pool, and spawns the Init/DWT/Pack/Final
// goroutine pools. Errors are BadParameter, InsufficientResources, or
// InvalidApiVersion, per spec.md §7's taxonomy.
func NewEncoder(opts Options, options ...Option) (*Encoder, error) {
	info, frameBudget, err := GetImageConfig(opts)
	if err != nil {
		return nil, err
	}

	packThreads, dwtThreads := resolveThreadCounts(opts.ThreadsNum, opts.CPUProfile)

	var capFlags markers.CapFlags
	if opts.VerticalPredictionMode != PredictionDisabled {
		capFlags |= markers.CapVerticalPrediction
	}
	if opts.Significance {
		capFlags |= markers.CapSignificance
	}

	cfg := pipeline.Config{
		Info: info,

		Profile:     pipeline.Profile(opts.CPUProfile),
		PoolSize:    opts.PoolSize,
		PackThreads: packThreads,
		DWTThreads:  dwtThreads,

		InputQueueSize: opts.InputQueueSize,

		PIHParams: markers.PIHParams{
			Bw:   20,
			Fq:   8,
			Qpih: uint8(opts.Quantization),
			Fs:   uint8(opts.SignsHandling),
			Rm:   uint8(opts.VerticalPredictionMode),
		},
		CapFlags: capFlags,

		RCConfig: ratecontrol.Config{
			GroupSize:              pi.GroupSize,
			SignificanceGroupSize:  pi.SignificanceGroupSize,
			QuantMethod:            uint8(opts.Quantization),
			SignHandling:           uint8(opts.SignsHandling),
			SignificanceAllowed:    opts.Significance,
			VerticalPredictAllowed: opts.VerticalPredictionMode != PredictionDisabled,
		},
		RCMode: opts.RateControlMode.toRC(),

		PackerOpts: makePackerOptions(opts),

		FrameBudgetBytes:   frameBudget,
		SlicePacketization: opts.SlicePacketizationMode == PacketizePerSlice,
	}

	e := &Encoder{
		info:   info,
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	cfg.Logger = e.logger

	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, errInsufficientResources(err)
	}
	e.p = p
	p.Start()
	return e, nil
}

// Info returns the Picture Info this encoder was built from.
func (e *Encoder) Info() *pi.Info { return e.info }

// SendPicture implements spec.md §6's send_picture: it enqueues frame
// for encoding, blocking or failing immediately with ErrEmptyQueue per
// blocking.
func (e *Encoder) SendPicture(frame *Frame, blocking bool) error {
	if err := e.p.SendPicture(frame, blocking); err != nil {
		return translateQueueErr(err)
	}
	e.mu.Lock()
	e.framesSubmitted++
	e.inflight++
	if e.inflight > e.highWaterMark {
		e.highWaterMark = e.inflight
	}
	e.mu.Unlock()
	if e.allocStats != nil {
		atomic.AddInt64(&e.allocStats.pcsAcquired, 1)
	}
	return nil
}

// GetPacket implements spec.md §6's get_packet: it dequeues one
// completed output packet, in frame order. A frame whose slices
// included an error is still returned, with Packet.Err set to
// ErrEncodeFrame wrapping the aggregated cause, per spec.md §7's
// propagation rule.
func (e *Encoder) GetPacket(blocking bool) (*Packet, error) {
	pkt, err := e.p.GetPacket(blocking)
	if err != nil {
		return nil, translateQueueErr(err)
	}
	if pkt.Err != nil {
		pkt.Err = errEncodeFrame(pkt.Err)
	}
	if pkt.LastPacketInFrame {
		e.mu.Lock()
		e.framesEmitted++
		if e.inflight > 0 {
			e.inflight--
		}
		e.mu.Unlock()
		if e.allocStats != nil {
			atomic.AddInt64(&e.allocStats.pcsReleased, 1)
		}
	}
	return pkt, nil
}

// Stats returns a snapshot of the encoder's internal counters.
func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		FramesSubmitted: e.framesSubmitted,
		FramesEmitted:   e.framesEmitted,
		HighWaterMark:   e.highWaterMark,
	}
}

// Close implements spec.md §6's close: it shuts down the pipeline and
// joins every worker goroutine, then releases any trace-file sink
// WithTraceFile installed.
func (e *Encoder) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.p.Close()
		if e.traceSink != nil {
			if cerr := e.traceSink.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// makePackerOptions derives the precinct packer's static options from
// opts; UseShortHeader and PadToBytes are filled in per-slice by the
// pipeline, which knows the per-precinct budget and Picture Info.
func makePackerOptions(opts Options) packer.Options {
	return packer.Options{
		GroupSize:             pi.GroupSize,
		SignificanceGroupSize: pi.SignificanceGroupSize,
		QuantMethod:           uint8(opts.Quantization),
		SignHandling:          uint8(opts.SignsHandling),
	}
}

// resolveThreadCounts implements SPEC_FULL.md's C8 supplement:
// threads_num == 0 resolves to runtime.NumCPU()-derived worker counts
// for both the Pack pool and, in CPU profile, the DWT pool.
func resolveThreadCounts(threadsNum int, profile CPUProfile) (packThreads, dwtThreads int) {
	if threadsNum > 0 {
		return threadsNum, threadsNum
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if profile == ProfileCPU {
		dwtThreads = n
		packThreads = n
		return packThreads, dwtThreads
	}
	return n, 0
}
