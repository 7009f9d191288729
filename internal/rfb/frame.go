package rfb

/*
#include <rfb/rfb.h>
*/
import "C"

import (
	"hash/crc32"
	"unsafe"
)

// FrameKind identifies which wire encoding SendFrame should use for the
// frame bytes it's given; it mirrors the device's reported pixel format.
type FrameKind int

const (
	FrameRaw FrameKind = iota
	FrameJPEG
	FrameHextile
)

// crcSkipOffset skips the JFIF header's non-image bytes, which vary frame
// to frame even when the encoded picture doesn't, before checksumming.
const crcSkipOffset = 0x30

// SendResult summarizes one SendFrame pass across all connected clients,
// for the caller to fold into rfb_frames_sent_total /
// rfb_frames_deduped_total.
type SendResult struct {
	Sent    int
	Deduped int
}

// SendFrame dispatches data to every connected client per kind, honoring
// each client's skip-frame countdown, dirty flag, and (if crcEnabled) a
// CRC-32 dedup check against the client's last sent frame.
func (s *Server) SendFrame(kind FrameKind, data []byte, crcEnabled bool) SendResult {
	if len(data) == 0 {
		return SendResult{}
	}

	var result SendResult
	var crc uint32
	var haveCRC bool
	if crcEnabled && len(data) > crcSkipOffset {
		crc = crc32.ChecksumIEEE(data[crcSkipOffset:])
		haveCRC = true
	}

	s.mu.Lock()
	width, height := s.width, s.height
	s.mu.Unlock()

	for cl := s.screen.clientHead; cl != nil; cl = cl.next {
		key := uintptr(unsafe.Pointer(cl))

		s.mu.Lock()
		cs, ok := s.clients[key]
		if !ok {
			s.mu.Unlock()
			continue
		}
		if cs.skipFrame > 0 {
			cs.skipFrame--
			s.mu.Unlock()
			continue
		}
		if !cs.needUpdate {
			s.mu.Unlock()
			continue
		}
		if crcEnabled && haveCRC && cs.haveCRC && cs.lastCRC == crc {
			s.mu.Unlock()
			result.Deduped++
			continue
		}
		if crcEnabled && haveCRC {
			cs.lastCRC = crc
			cs.haveCRC = true
		}
		cs.needUpdate = false
		s.mu.Unlock()

		switch kind {
		case FrameRaw:
			s.CopyRawFrame(data)
		case FrameJPEG:
			C.sendJpegFrame(cl, C.int(width), C.int(height),
				(*C.uchar)(unsafe.Pointer(&data[0])), C.int(len(data)))
		case FrameHextile:
			C.sendHextileFrame(cl, C.int(width), C.int(height),
				(*C.uchar)(unsafe.Pointer(&data[0])), C.int(len(data)))
		}
		result.Sent++
	}

	return result
}
