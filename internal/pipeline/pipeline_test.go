package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/packer"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/queue"
	"github.com/mrjoshuak/go-jpegxs/internal/ratecontrol"
)

// yuv422Info16x16 matches spec.md §8 scenario 1's geometry (16x16 yuv422
// 8-bit, decom_v=0, decom_h=1, slice_height=16). The packer's per-band
// packet header overhead (5 bytes short-form) means this geometry's
// literal 96-byte scenario budget isn't reachable — 16 single-row
// precincts x 6 bands x 5 bytes alone exceeds it — so tests built on this
// Info use a larger FrameBudgetBytes and instead check the accounting
// invariant spec.md §8 actually requires (bytes_emitted == the
// precomputed budget), not the scenario's specific byte count.
func yuv422Info16x16(t *testing.T) *pi.Info {
	t.Helper()
	info, err := pi.New(pi.Config{
		Width: 16, Height: 16, BitDepth: 8,
		ColourFormat: pi.ColourYUV422,
		DecomH:       1, DecomV: 0,
		SliceHeight: 16,
	})
	if err != nil {
		t.Fatalf("pi.New: %v", err)
	}
	return info
}

func zeroFrame(info *pi.Info) *Frame {
	planes := make([][]int32, len(info.Components))
	for ci, c := range info.Components {
		planes[ci] = make([]int32, c.Width*c.Height)
	}
	return &Frame{Planes: planes}
}

func baseConfig(info *pi.Info, frameBudget int) Config {
	return Config{
		Info:             info,
		Profile:          ProfileLowLatency,
		PoolSize:         4,
		PackThreads:      1,
		InputQueueSize:   4,
		PIHParams:        markers.DefaultPIHParams(),
		FrameBudgetBytes: frameBudget,
		RCConfig: ratecontrol.Config{
			GroupSize: 4, SignificanceGroupSize: 8,
			QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff,
		},
		RCMode: ratecontrol.PerPrecinct,
		PackerOpts: packer.Options{
			GroupSize: 4, SignificanceGroupSize: 8,
			QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff,
		},
	}
}

func TestPipeline_FullFrameAccounting(t *testing.T) {
	info := yuv422Info16x16(t)
	cfg := baseConfig(info, 700)

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start()
	defer p.Close()

	if err := p.SendPicture(zeroFrame(info), true); err != nil {
		t.Fatalf("SendPicture: %v", err)
	}
	pkt, err := p.GetPacket(true)
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if len(pkt.Data) != 700 {
		t.Errorf("len(Data) = %d, want 700 (frame budget)", len(pkt.Data))
	}
	if !pkt.LastPacketInFrame {
		t.Error("expected LastPacketInFrame on the sole full-frame packet")
	}
	if pkt.Err != nil {
		t.Errorf("unexpected frame error: %v", pkt.Err)
	}
}

func TestPipeline_PerSlicePacketization(t *testing.T) {
	info, err := pi.New(pi.Config{
		Width: 8, Height: 8, BitDepth: 8,
		ColourFormat: pi.ColourYUV400,
		DecomH:       1, DecomV: 0,
		SliceHeight: 4, // 2 slices
	})
	if err != nil {
		t.Fatalf("pi.New: %v", err)
	}
	if info.SliceNum != 2 {
		t.Fatalf("SliceNum = %d, want 2", info.SliceNum)
	}

	cfg := baseConfig(info, 300)
	cfg.SlicePacketization = true

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start()
	defer p.Close()

	if err := p.SendPicture(zeroFrame(info), true); err != nil {
		t.Fatalf("SendPicture: %v", err)
	}

	// spec.md §8's per-slice invariant: between two last_packet_in_frame
	// events, exactly slice_num + 1 events (header then each slice).
	var packets []*Packet
	for i := 0; i < info.SliceNum+1; i++ {
		pkt, err := p.GetPacket(true)
		if err != nil {
			t.Fatalf("GetPacket %d: %v", i, err)
		}
		packets = append(packets, pkt)
	}

	if len(packets[0].Data) != p.headerLen {
		t.Errorf("header packet len = %d, want %d", len(packets[0].Data), p.headerLen)
	}
	if packets[0].LastPacketInFrame {
		t.Error("header packet must not carry LastPacketInFrame")
	}
	for i := 1; i <= info.SliceNum; i++ {
		wantLast := i == info.SliceNum
		if packets[i].LastPacketInFrame != wantLast {
			t.Errorf("packet %d LastPacketInFrame = %v, want %v", i, packets[i].LastPacketInFrame, wantLast)
		}
	}
	lastPkt := packets[info.SliceNum]
	wantLastLen := p.sliceTotalBytes[info.SliceNum-1] + eocBytes
	if len(lastPkt.Data) != wantLastLen {
		t.Errorf("last slice packet len = %d, want %d (slice bytes + EOC)", len(lastPkt.Data), wantLastLen)
	}
}

func TestPipeline_PerSliceModesAccountExactly(t *testing.T) {
	for _, mode := range []ratecontrol.Mode{ratecontrol.PerSliceCommonQuant, ratecontrol.PerSliceMaxRate} {
		info := yuv422Info16x16(t)
		cfg := baseConfig(info, 700)
		cfg.RCMode = mode

		p, err := New(cfg)
		if err != nil {
			t.Fatalf("mode %v: New: %v", mode, err)
		}
		p.Start()

		if err := p.SendPicture(zeroFrame(info), true); err != nil {
			t.Fatalf("mode %v: SendPicture: %v", mode, err)
		}
		pkt, err := p.GetPacket(true)
		if err != nil {
			t.Fatalf("mode %v: GetPacket: %v", mode, err)
		}
		if len(pkt.Data) != 700 {
			t.Errorf("mode %v: len(Data) = %d, want 700 (frame budget)", mode, len(pkt.Data))
		}
		if pkt.Err != nil {
			t.Errorf("mode %v: unexpected frame error: %v", mode, pkt.Err)
		}
		p.Close()
	}
}

func TestPipeline_CPUProfileRunsDWTBarrier(t *testing.T) {
	info, err := pi.New(pi.Config{
		Width: 8, Height: 8, BitDepth: 8,
		ColourFormat: pi.ColourYUV400,
		DecomH:       2, DecomV: 1,
		SliceHeight: 8,
	})
	if err != nil {
		t.Fatalf("pi.New: %v", err)
	}

	cfg := baseConfig(info, 500)
	cfg.Profile = ProfileCPU
	cfg.DWTThreads = 2
	cfg.PackThreads = 2

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.cfg.Profile != ProfileCPU {
		t.Fatalf("expected CPU profile to survive decom_v=1")
	}
	p.Start()
	defer p.Close()

	if err := p.SendPicture(zeroFrame(info), true); err != nil {
		t.Fatalf("SendPicture: %v", err)
	}
	pkt, err := p.GetPacket(true)
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if len(pkt.Data) != 500 {
		t.Errorf("len(Data) = %d, want 500", len(pkt.Data))
	}
	if pkt.Err != nil {
		t.Errorf("unexpected frame error: %v", pkt.Err)
	}
}

// TestPipeline_CPUProfileForcesLowLatencyWhenDecomVZero preserves spec.md
// §9's "potential source bug" precondition: CPU profile must not admit
// decom_v == 0.
func TestPipeline_CPUProfileForcesLowLatencyWhenDecomVZero(t *testing.T) {
	info := yuv422Info16x16(t)
	cfg := baseConfig(info, 700)
	cfg.Profile = ProfileCPU

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.cfg.Profile != ProfileLowLatency {
		t.Errorf("Profile = %v, want forced ProfileLowLatency for decom_v=0", p.cfg.Profile)
	}
}

func TestPipeline_OrdersFramesAcrossWorkers(t *testing.T) {
	info := yuv422Info16x16(t)
	cfg := baseConfig(info, 700)
	cfg.PoolSize = 8
	cfg.InputQueueSize = 8
	cfg.PackThreads = 4

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start()
	defer p.Close()

	const numFrames = 6
	for i := 0; i < numFrames; i++ {
		if err := p.SendPicture(zeroFrame(info), true); err != nil {
			t.Fatalf("SendPicture %d: %v", i, err)
		}
	}
	for i := 0; i < numFrames; i++ {
		pkt, err := p.GetPacket(true)
		if err != nil {
			t.Fatalf("GetPacket %d: %v", i, err)
		}
		if pkt.FrameNumber != int64(i) {
			t.Errorf("packet %d: FrameNumber = %d, want %d", i, pkt.FrameNumber, i)
		}
	}
}

func TestPipeline_SendPictureBackpressure(t *testing.T) {
	info := yuv422Info16x16(t)
	cfg := baseConfig(info, 700)
	cfg.InputQueueSize = 3

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Deliberately never Start(): this isolates SendPicture's backpressure
	// behavior from Init's consumption rate.

	for i := 0; i < 3; i++ {
		if err := p.SendPicture(zeroFrame(info), false); err != nil {
			t.Fatalf("SendPicture %d: %v", i, err)
		}
	}
	if err := p.SendPicture(zeroFrame(info), false); !errors.Is(err, queue.ErrEmpty) {
		t.Errorf("4th SendPicture = %v, want queue.ErrEmpty", err)
	}
}

func TestPipeline_CloseJoinsWithInflightFrames(t *testing.T) {
	info := yuv422Info16x16(t)
	cfg := baseConfig(info, 700)
	cfg.PoolSize = 4
	cfg.InputQueueSize = 4

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start()

	for i := 0; i < 3; i++ {
		if err := p.SendPicture(zeroFrame(info), true); err != nil {
			t.Fatalf("SendPicture %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return within 5s with frames inflight")
	}

	// Close only joins the stages; it doesn't discard packets the stages
	// already produced for the 3 inflight frames before shutting down.
	for i := 0; i < 3; i++ {
		if _, err := p.GetPacket(false); err != nil {
			t.Errorf("draining packet %d after Close: %v", i, err)
		}
	}
	if _, err := p.GetPacket(false); !errors.Is(err, queue.ErrShutdown) {
		t.Errorf("GetPacket once drained = %v, want queue.ErrShutdown", err)
	}
}
