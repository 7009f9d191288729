// Package rfb wraps libvncserver to drive the RFB/VNC protocol: framebuffer
// updates, client lifecycle, and keyboard/pointer event delivery. It keeps
// no domain knowledge of HID or V4L2 — those live in internal/input and
// internal/video — and exposes only what the manager and server modules
// need to pump frames and receive input.
package rfb

/*
#cgo LDFLAGS: -lvncserver
#include <rfb/rfb.h>
#include <stdlib.h>
#include <string.h>

extern void goKeyEventCallback(rfbBool down, rfbKeySym key, rfbClientPtr cl);
extern void goPointerEventCallback(int buttonMask, int x, int y, rfbClientPtr cl);
extern enum rfbNewClientAction goNewClientCallback(rfbClientPtr cl);
extern void goClientGoneCallback(rfbClientPtr cl);
extern void goFramebufferUpdateRequestCallback(rfbClientPtr cl);

static inline void installCallbacks(rfbScreenInfoPtr screen) {
    screen->kbdAddEvent = goKeyEventCallback;
    screen->ptrAddEvent = goPointerEventCallback;
    screen->newClientHook = goNewClientCallback;
}

static inline void setClientGoneHook(rfbClientPtr cl) {
    cl->clientGoneHook = goClientGoneCallback;
    cl->clientFramebufferUpdateRequestHook = goFramebufferUpdateRequestCallback;
}

static inline void markWholeScreenModified(rfbScreenInfoPtr screen, int w, int h) {
    rfbMarkRectAsModified(screen, 0, 0, w, h);
}

static inline void setServerPasswordFile(rfbScreenInfoPtr screen, char *path) {
    screen->authPasswdData = path;
    screen->passwordCheck = rfbCheckPasswordByFile;
}

static inline void setArrowCursor(rfbScreenInfoPtr screen, int w, int h, unsigned char *bitmap, unsigned char *mask) {
    screen->cursor = rfbMakeXCursor(w, h, (char*)bitmap, (char*)mask);
    screen->cursor->xhot = 1;
    screen->cursor->yhot = 1;
}

static inline void sendJpegFrame(rfbClientPtr cl, int w, int h, unsigned char *data, int len) {
    rfbFramebufferUpdateMsg *fu = (rfbFramebufferUpdateMsg *)cl->updateBuf;
    if (cl->enableLastRectEncoding) {
        fu->nRects = 0xFFFF;
    } else {
        fu->nRects = Swap16IfLE(1);
    }
    fu->type = rfbFramebufferUpdate;
    cl->ublen = sz_rfbFramebufferUpdateMsg;
    rfbSendUpdateBuf(cl);
    cl->tightEncoding = rfbEncodingTight;
    rfbSendTightHeader(cl, 0, 0, w, h);
    cl->updateBuf[cl->ublen++] = (char)(rfbTightJpeg << 4);
    rfbSendCompressedDataTight(cl, (char*)data, len);
    if (cl->enableLastRectEncoding) {
        rfbSendLastRectMarker(cl);
    }
    rfbSendUpdateBuf(cl);
}

static inline void sendHextileFrame(rfbClientPtr cl, int w, int h, unsigned char *data, int len) {
    rfbFramebufferUpdateMsg *fu = (rfbFramebufferUpdateMsg *)cl->updateBuf;
    if (cl->enableLastRectEncoding) {
        fu->nRects = 0xFFFF;
    } else {
        fu->nRects = Swap16IfLE(1);
    }
    fu->type = rfbFramebufferUpdate;
    cl->ublen = sz_rfbFramebufferUpdateMsg;
    rfbSendUpdateBuf(cl);
    for (int i = 0, portion = UPDATE_BUF_SIZE; i < len; i += portion) {
        if (i + portion > len) {
            portion = len - i;
        }
        if (cl->ublen + portion > UPDATE_BUF_SIZE) {
            rfbSendUpdateBuf(cl);
        }
        memcpy(&cl->updateBuf[cl->ublen], data + i, portion);
        cl->ublen += portion;
    }
    if (cl->enableLastRectEncoding) {
        rfbSendLastRectMarker(cl);
    }
    rfbSendUpdateBuf(cl);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// PixelFormat describes an RGB layout applied to the server's framebuffer.
type PixelFormat struct {
	RedMax, GreenMax, BlueMax          uint16
	RedShift, GreenShift, BlueShift    uint8
}

// StandardPixelFormat is the library's default: 8 bits per channel.
var StandardPixelFormat = PixelFormat{RedMax: 255, GreenMax: 255, BlueMax: 255, RedShift: 16, GreenShift: 8, BlueShift: 0}

// RGB565PixelFormat is used for the RGB565 and HEXTILE device pixel
// formats.
var RGB565PixelFormat = PixelFormat{RedMax: 31, GreenMax: 63, BlueMax: 31, RedShift: 0, GreenShift: 5, BlueShift: 11}

// KeyEventFunc is invoked on every keyboard event delivered by a client.
type KeyEventFunc func(down bool, keysym uint32)

// PointerEventFunc is invoked on every pointer event delivered by a
// client, with the RFB button mask and absolute coordinates.
type PointerEventFunc func(buttonMask uint8, x, y int)

// ClientLifecycleFunc is invoked when the number of connected clients
// transitions to/from zero.
type ClientLifecycleFunc func()

const bitsPerSample = 8
const samplesPerPixel = 3
const bytesPerPixel = 4

// clientState tracks per-connection bookkeeping the RFB library itself has
// no field for: frame skip countdown, dirty flag, and dedup CRC.
type clientState struct {
	skipFrame  int
	needUpdate bool
	lastCRC    uint32
	haveCRC    bool
}

// Server drives one libvncserver rfbScreenInfo: framebuffer, client
// bookkeeping, and encode dispatch.
type Server struct {
	mu     sync.Mutex
	screen *C.rfbScreenInfo

	width, height int
	framebuffer   []byte

	clients map[uintptr]*clientState

	frameRate int
	numClients int

	onKey       KeyEventFunc
	onPointer   PointerEventFunc
	onFirstConn ClientLifecycleFunc
	onLastGone  ClientLifecycleFunc

	passwordCString *C.char
}

var (
	registryMu sync.RWMutex
	registry   = make(map[*C.rfbScreenInfo]*Server)
)

// NewServer creates an RFB screen of the given dimensions and installs the
// callback trampolines. frameRate seeds the per-client skip-frame grace
// window used after connect and resize.
func NewServer(width, height, frameRate int) (*Server, error) {
	screen := C.rfbGetScreen(nil, nil, C.int(width), C.int(height), bitsPerSample, samplesPerPixel, bytesPerPixel)
	if screen == nil {
		return nil, fmt.Errorf("rfbGetScreen failed for %dx%d", width, height)
	}

	fb := make([]byte, width*height*bytesPerPixel)
	screen.frameBuffer = (*C.char)(unsafe.Pointer(&fb[0]))
	screen.desktopName = C.CString("OpenBMC IKVM")

	bitmap, mask := arrowCursor()
	C.setArrowCursor(screen, C.int(cursorSize), C.int(cursorSize),
		(*C.uchar)(unsafe.Pointer(&bitmap[0])), (*C.uchar)(unsafe.Pointer(&mask[0])))

	s := &Server{
		screen:      screen,
		width:       width,
		height:      height,
		framebuffer: fb,
		clients:     make(map[uintptr]*clientState),
		frameRate:   frameRate,
	}

	registryMu.Lock()
	registry[screen] = s
	registryMu.Unlock()

	C.installCallbacks(screen)

	return s, nil
}

// SetPort sets the TCP listen port. Must be called before Init.
func (s *Server) SetPort(port int) {
	s.screen.port = C.int(port)
}

// SetPasswordFile enables VNC authentication against the given
// libvncserver password file. Passing "" disables authentication.
func (s *Server) SetPasswordFile(path string) {
	if s.passwordCString != nil {
		C.free(unsafe.Pointer(s.passwordCString))
		s.passwordCString = nil
	}
	if path == "" {
		s.screen.authPasswdData = nil
		s.screen.passwordCheck = nil
		return
	}
	s.passwordCString = C.CString(path)
	C.setServerPasswordFile(s.screen, s.passwordCString)
}

// SetPixelFormat overrides the default 8-bit RGB pixel format, used when
// the video device reports RGB565 or HEXTILE.
func (s *Server) SetPixelFormat(f PixelFormat) {
	format := &s.screen.serverFormat
	format.redMax = C.ushort(f.RedMax)
	format.greenMax = C.ushort(f.GreenMax)
	format.blueMax = C.ushort(f.BlueMax)
	format.redShift = C.uchar(f.RedShift)
	format.greenShift = C.uchar(f.GreenShift)
	format.blueShift = C.uchar(f.BlueShift)
}

// SetHandlers wires the callbacks that receive translated RFB events.
func (s *Server) SetHandlers(onKey KeyEventFunc, onPointer PointerEventFunc, onFirstConn, onLastGone ClientLifecycleFunc) {
	s.onKey = onKey
	s.onPointer = onPointer
	s.onFirstConn = onFirstConn
	s.onLastGone = onLastGone
}

// Init starts listening. Call after SetPort/SetPasswordFile/SetHandlers.
func (s *Server) Init() {
	C.rfbInitServer(s.screen)
	C.markWholeScreenModified(s.screen, C.int(s.width), C.int(s.height))
}

// ProcessEvents pumps the RFB event loop for up to processTimeUsec
// microseconds.
func (s *Server) ProcessEvents(processTimeUsec int) {
	C.rfbProcessEvents(s.screen, C.long(processTimeUsec))
}

// HasClients reports whether at least one client is currently connected.
func (s *Server) HasClients() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numClients > 0
}

// ClientCount returns the number of currently connected clients, for the
// rfb_clients_connected gauge.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numClients
}

// MarkAllNeedUpdate flags every connected client's per-client state dirty.
func (s *Server) MarkAllNeedUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.clients {
		cs.needUpdate = true
	}
}

// SetSkipFrameAll sets the skip-frame countdown on every connected client,
// used after a resize to give viewers time to re-lay out their window.
func (s *Server) SetSkipFrameAll(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.clients {
		cs.skipFrame = n
	}
}

// Resize reallocates the framebuffer and announces the new dimensions and
// pixel format to the library.
func (s *Server) Resize(width, height int, format PixelFormat) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.framebuffer = make([]byte, width*height*bytesPerPixel)
	s.mu.Unlock()

	C.rfbNewFramebuffer(s.screen, (*C.char)(unsafe.Pointer(&s.framebuffer[0])),
		C.int(width), C.int(height), bitsPerSample, samplesPerPixel, bytesPerPixel)
	s.SetPixelFormat(format)
	C.markWholeScreenModified(s.screen, C.int(width), C.int(height))
}

// CopyRawFrame copies data into the shared framebuffer and marks the
// entire rectangle modified, for RGB24/RGB565 devices whose bytes the
// library encodes itself.
func (s *Server) CopyRawFrame(data []byte) {
	s.mu.Lock()
	n := copy(s.framebuffer, data)
	_ = n
	w, h := s.width, s.height
	s.mu.Unlock()
	C.markWholeScreenModified(s.screen, C.int(w), C.int(h))
}

// MarkModified marks the whole current framebuffer rectangle dirty, used
// when the last client disconnects so the next one doesn't inherit a
// half-finished update.
func (s *Server) MarkModified() {
	w, h := s.Dims()
	C.markWholeScreenModified(s.screen, C.int(w), C.int(h))
}

// Dims returns the current framebuffer dimensions.
func (s *Server) Dims() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Close tears down the RFB screen and releases cgo resources.
func (s *Server) Close() {
	registryMu.Lock()
	delete(registry, s.screen)
	registryMu.Unlock()

	if s.passwordCString != nil {
		C.free(unsafe.Pointer(s.passwordCString))
		s.passwordCString = nil
	}
	C.rfbScreenCleanup(s.screen)
}
