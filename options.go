package jpegxs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/ratecontrol"
)

// APIMajor/APIMinor is this library's own API version, checked against
// the caller's requested version in LoadDefaultParameters per spec.md
// §6's load_default_parameters contract.
const (
	APIMajor = 1
	APIMinor = 0
)

// ColourFormat enumerates the supported component subsampling layouts,
// spec.md §6's colour_format option.
type ColourFormat int

const (
	ColourYUV400 ColourFormat = iota
	ColourYUV420
	ColourYUV422
	ColourYUV444
)

func (c ColourFormat) toPI() pi.ColourFormat { return pi.ColourFormat(c) }

// Quantization selects the picture header's quantization method,
// spec.md §6's quantization option.
type Quantization uint8

const (
	QuantDeadzone Quantization = markers.QuantDeadzone
	QuantUniform  Quantization = markers.QuantUniform
)

// SignHandling selects how coefficient signs are coded, spec.md §6's
// coding_signs_handling option.
type SignHandling uint8

const (
	SignOff  SignHandling = markers.SignOff
	SignFast SignHandling = markers.SignFast
	SignFull SignHandling = markers.SignFull
)

// VerticalPredictionMode selects whether and how a band line is coded
// relative to the precinct above it, spec.md §6's
// coding_vertical_prediction_mode option.
type VerticalPredictionMode uint8

const (
	PredictionDisabled VerticalPredictionMode = markers.PredictionDisabled
	PredictionResidual VerticalPredictionMode = markers.PredictionResidual
	PredictionZeroCoef VerticalPredictionMode = markers.PredictionZeroCoef
)

// CPUProfile selects the scheduling profile, spec.md §6's cpu_profile
// option.
type CPUProfile int

const (
	ProfileLatency CPUProfile = iota
	ProfileCPU
)

// RateControlMode selects how a slice's byte budget is distributed
// across its precincts, spec.md §6's rate_control_mode option.
type RateControlMode int

const (
	RateControlPerPrecinct RateControlMode = iota
	RateControlPerPrecinctMovePadding
	RateControlPerSlice
	RateControlPerSliceMaxRate
)

func (m RateControlMode) toRC() ratecontrol.Mode { return ratecontrol.Mode(m) }

// SlicePacketizationMode selects full-frame vs per-slice output
// packetization, spec.md §6's slice_packetization_mode option.
type SlicePacketizationMode int

const (
	PacketizeFullFrame SlicePacketizationMode = iota
	PacketizePerSlice
)

// Options holds every configuration knob spec.md §6's table names,
// following the teacher's Options/DefaultOptions pattern
// (jpeg2000.go's Options) generalized to the encoder config table.
type Options struct {
	SourceWidth, SourceHeight int
	InputBitDepth             int
	ColourFormat              ColourFormat

	// BPPNumerator/BPPDenominator express bpp = num/den, spec.md §6's
	// bpp option; together with the geometry they derive the per-frame
	// byte budget GetImageConfig reports.
	BPPNumerator, BPPDenominator int

	DecompV, DecompH int

	Quantization Quantization

	SliceHeight int

	CPUProfile CPUProfile

	RateControlMode RateControlMode

	SignsHandling          SignHandling
	Significance           bool
	VerticalPredictionMode VerticalPredictionMode

	SlicePacketizationMode SlicePacketizationMode

	// ThreadsNum is spec.md §6's threads_num: 0 resolves to
	// runtime.NumCPU()-derived worker counts for both DWT and Pack
	// pools, per SPEC_FULL.md's C8 supplement.
	ThreadsNum int

	// PoolSize is the PCS pool size; 0 defaults to 10 per spec.md §3.
	PoolSize int

	// InputQueueSize is the send_picture backlog capacity; 0 defaults
	// to ~10 per spec.md §5.
	InputQueueSize int
}

// DefaultOptions returns spec.md §6's simplest configuration: no sign
// handling, no significance, no vertical prediction, per-precinct rate
// control, full-frame packetization, low-latency profile.
func DefaultOptions() *Options {
	return &Options{
		ColourFormat:           ColourYUV444,
		InputBitDepth:          8,
		BPPNumerator:           1,
		BPPDenominator:         1,
		Quantization:           QuantDeadzone,
		CPUProfile:             ProfileLatency,
		RateControlMode:        RateControlPerPrecinct,
		SignsHandling:          SignOff,
		VerticalPredictionMode: PredictionDisabled,
		SlicePacketizationMode: PacketizeFullFrame,
	}
}

// LoadDefaultParameters implements spec.md §6's load_default_parameters:
// it returns default Options, failing with ErrInvalidAPIVersion if the
// caller requests an API newer than this library implements.
func LoadDefaultParameters(apiMajor, apiMinor int) (*Options, error) {
	if apiMajor > APIMajor || (apiMajor == APIMajor && apiMinor > APIMinor) {
		return nil, errors.Wrapf(ErrInvalidAPIVersion, "requested api v%d.%d exceeds library api v%d.%d",
			apiMajor, apiMinor, APIMajor, APIMinor)
	}
	return DefaultOptions(), nil
}

// GetImageConfig implements spec.md §6's get_image_config: a pure
// function deriving the picture geometry and per-frame byte budget
// from opts, without allocating an encoder.
func GetImageConfig(opts Options) (info *pi.Info, bytesPerFrame int, err error) {
	info, err = opts.buildInfo()
	if err != nil {
		return nil, 0, err
	}
	bytesPerFrame, err = opts.frameBudgetBytes(info)
	if err != nil {
		return nil, 0, err
	}
	return info, bytesPerFrame, nil
}

func (o Options) buildInfo() (*pi.Info, error) {
	info, err := pi.New(pi.Config{
		Width:        o.SourceWidth,
		Height:       o.SourceHeight,
		BitDepth:     o.InputBitDepth,
		ColourFormat: o.ColourFormat.toPI(),
		DecomH:       o.DecompH,
		DecomV:       o.DecompV,
		SliceHeight:  o.SliceHeight,
	})
	if err != nil {
		return nil, errors.Wrap(ErrBadParameter, err.Error())
	}
	return info, nil
}

// frameBudgetBytes computes ceil(width*height*bpp_num/bpp_den) bytes,
// spec.md §6's bpp option, rejecting configurations that would produce
// zero or >= 2^32 bytes per frame per spec.md §8's BPP boundary test.
func (o Options) frameBudgetBytes(info *pi.Info) (int, error) {
	if o.BPPNumerator <= 0 || o.BPPDenominator <= 0 {
		return 0, errors.Wrap(ErrBadParameter, "bpp must be positive")
	}
	pixels := int64(info.Width) * int64(info.Height) * int64(info.ComponentsNum)
	bits := pixels * int64(o.BPPNumerator)
	bytes := (bits + int64(o.BPPDenominator)*8 - 1) / (int64(o.BPPDenominator) * 8)
	if bytes <= 0 {
		return 0, errors.Wrap(ErrBadParameter, "bpp produces zero bytes per frame")
	}
	const maxBytesPerFrame = 1<<32 - 1
	if bytes > maxBytesPerFrame {
		return 0, errors.Wrap(ErrBadParameter, "bpp produces >= 2^32 bytes per frame")
	}
	return int(bytes), nil
}

// Option configures an Encoder at construction time, mirroring the
// teacher's functional pattern generalized from a single *Options
// struct argument.
type Option func(*Encoder) error

// WithLogger overrides the encoder's structured logger, default
// zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(e *Encoder) error {
		e.logger = logger
		return nil
	}
}

// WithTraceFile routes debug-level stage logging to a rotating file via
// lumberjack instead of whatever logger was otherwise configured. Off
// by default; intended for diagnosing a specific encode session, not
// for routine operation.
func WithTraceFile(path string, maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(e *Encoder) error {
		sink := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
		}
		encCfg := zap.NewProductionEncoderConfig()
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(sink), zapcore.DebugLevel)
		e.logger = zap.New(core)
		e.traceSink = sink
		return nil
	}
}

// WithAllocStats enables the optional per-call-site allocation counters
// spec.md §9's "global malloc-tracking table" note describes,
// re-implemented as an opt-in wrapper rather than a compiled-in debug
// table. Never engaged unless passed explicitly.
func WithAllocStats() Option {
	return func(e *Encoder) error {
		e.allocStats = &AllocStats{}
		return nil
	}
}
