package rfb

/*
#include <rfb/rfb.h>
*/
import "C"

import "unsafe"

func findServer(screen *C.rfbScreenInfo) *Server {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[screen]
}

//export goKeyEventCallback
func goKeyEventCallback(down C.rfbBool, key C.rfbKeySym, cl C.rfbClientPtr) {
	if cl == nil {
		return
	}
	s := findServer(cl.screen)
	if s == nil || s.onKey == nil {
		return
	}
	s.onKey(down != 0, uint32(key))
}

//export goPointerEventCallback
func goPointerEventCallback(buttonMask C.int, x C.int, y C.int, cl C.rfbClientPtr) {
	if cl == nil {
		return
	}
	s := findServer(cl.screen)
	if s == nil || s.onPointer == nil {
		return
	}
	s.onPointer(uint8(buttonMask), int(x), int(y))
}

//export goNewClientCallback
func goNewClientCallback(cl C.rfbClientPtr) C.enum_rfbNewClientAction {
	s := findServer(cl.screen)
	if s == nil {
		return C.RFB_CLIENT_ACCEPT
	}

	C.setClientGoneHook(cl)

	s.mu.Lock()
	s.clients[uintptr(unsafe.Pointer(cl))] = &clientState{skipFrame: s.frameRate}
	s.numClients++
	first := s.numClients == 1
	s.mu.Unlock()

	if first && s.onFirstConn != nil {
		s.onFirstConn()
	}

	return C.RFB_CLIENT_ACCEPT
}

//export goClientGoneCallback
func goClientGoneCallback(cl C.rfbClientPtr) {
	s := findServer(cl.screen)
	if s == nil {
		return
	}

	s.mu.Lock()
	delete(s.clients, uintptr(unsafe.Pointer(cl)))
	s.numClients--
	last := s.numClients == 0
	s.mu.Unlock()

	if last && s.onLastGone != nil {
		s.onLastGone()
	}
}

//export goFramebufferUpdateRequestCallback
func goFramebufferUpdateRequestCallback(cl C.rfbClientPtr) {
	s := findServer(cl.screen)
	if s == nil {
		return
	}
	s.mu.Lock()
	if cs, ok := s.clients[uintptr(unsafe.Pointer(cl))]; ok {
		cs.needUpdate = true
	}
	s.mu.Unlock()
}
