package jpegxs

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-jpegxs/internal/queue"
)

// Sentinel errors forming the taxonomy in the encoder design. Callers
// compare against these with errors.Is; internal call sites wrap them
// with github.com/pkg/errors for diagnostic context before they cross
// the public API boundary.
var (
	// ErrBadParameter indicates invalid configuration or buffer sizes.
	ErrBadParameter = errors.New("jpegxs: bad parameter")

	// ErrInsufficientResources indicates an allocation failure during init.
	ErrInsufficientResources = errors.New("jpegxs: insufficient resources")

	// ErrInvalidAPIVersion indicates the caller's ABI version exceeds the library's.
	ErrInvalidAPIVersion = errors.New("jpegxs: invalid api version")

	// ErrRateControlFailed indicates no feasible (quantization, refinement)
	// was found for a slice; the slice is marked errored and encoding continues.
	ErrRateControlFailed = errors.New("jpegxs: rate control failed")

	// ErrBitstreamTooShort indicates the caller's output buffer cannot hold
	// even the fixed headers.
	ErrBitstreamTooShort = errors.New("jpegxs: bitstream buffer too short")

	// ErrEmptyQueue indicates a non-blocking send/receive had no capacity/item.
	ErrEmptyQueue = errors.New("jpegxs: empty queue")

	// ErrFifoShutdown is the internal signal delivered by queues after shutdown.
	ErrFifoShutdown = errors.New("jpegxs: fifo shutdown")

	// ErrEncodeFrame is the surface-level error reported on a frame with
	// one or more errored slices. It wraps the aggregated per-slice causes.
	ErrEncodeFrame = errors.New("jpegxs: frame encode error")

	// ErrPackerAccounting is a release-mode internal invariant violation:
	// the bytes a precinct packer emitted didn't match what the rate
	// controller computed. In debug builds this is an assertion instead.
	ErrPackerAccounting = errors.New("jpegxs: packer accounting mismatch")

	// ErrClosed indicates an operation on an encoder that has already
	// been closed.
	ErrClosed = errors.New("jpegxs: encoder closed")
)

// translateQueueErr maps internal/queue's sentinels onto this package's
// public taxonomy, so callers only ever compare against jpegxs.Err*.
func translateQueueErr(err error) error {
	switch {
	case errors.Is(err, queue.ErrEmpty):
		return errors.Wrap(ErrEmptyQueue, err.Error())
	case errors.Is(err, queue.ErrShutdown):
		return errors.Wrap(ErrFifoShutdown, err.Error())
	default:
		return err
	}
}

// errInsufficientResources wraps a pipeline allocation failure as
// ErrInsufficientResources, per spec.md §7's init error taxonomy.
func errInsufficientResources(err error) error {
	return errors.Wrap(ErrInsufficientResources, err.Error())
}

// errEncodeFrame wraps a frame's aggregated per-slice cause as
// ErrEncodeFrame, per spec.md §7's propagation rule.
func errEncodeFrame(cause error) error {
	return errors.Wrap(ErrEncodeFrame, cause.Error())
}
