// Package jpegxs implements the core of a JPEG XS (ISO/IEC 21122-1)
// still/video codestream encoder: the staged pipeline scheduler, the
// per-precinct rate controller, and the codestream packer. File I/O,
// a CLI front-end, and a decoder are out of scope for this module.
//
// Basic usage:
//
//	opts := jpegxs.DefaultOptions()
//	opts.SourceWidth, opts.SourceHeight = 1920, 1080
//	opts.ColourFormat = jpegxs.ColourYUV422
//	opts.DecompH, opts.DecompV = 3, 1
//	opts.SliceHeight = 16
//
//	enc, err := jpegxs.NewEncoder(*opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer enc.Close()
//
//	if err := enc.SendPicture(frame, true); err != nil {
//	    log.Fatal(err)
//	}
//	pkt, err := enc.GetPacket(true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = pkt.Data
package jpegxs
