//go:build linux

package v4l2

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"
)

// NumStreamingBuffers is the number of mmap'd buffers requested from the
// driver, matching the original capture pipeline's fixed buffer count.
const NumStreamingBuffers = 4

const (
	VIDIOC_G_FMT = 0xc0d05604
	VIDIOC_S_FMT = 0xc0d05605
)

// v4l2_pix_format is the single-planar pixel format description. It has
// no timeval or pointer members, so its layout is identical on 32- and
// 64-bit architectures.
type v4l2_pix_format struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2_format is a 4-byte type selector followed by the kernel's 200-byte
// format union, which is aligned like a pointer: 208 bytes on 64-bit
// (union at offset 8), 204 bytes on 32-bit. Only the single-planar pix
// branch is named; the rest of the union is padding.
type v4l2_format struct {
	typ uint32
	_   [0]uintptr
	pix v4l2_pix_format
	_   [152]byte
}

var _ [200 + unsafe.Alignof(uintptr(0))]byte = [unsafe.Sizeof(v4l2_format{})]byte{}

// Buffer is one mmap'd streaming buffer.
type Buffer struct {
	data   []byte
	queued bool
}

// Bytes returns the buffer's mapped memory.
func (b *Buffer) Bytes() []byte { return b.data }

// Capture owns an open V4L2 capture device operated through the kernel's
// mmap streaming ioctls (REQBUFS/QUERYBUF/QBUF/DQBUF/STREAMON/STREAMOFF).
type Capture struct {
	mu sync.Mutex

	devicePath string
	fd         int

	buffers   []Buffer
	streaming bool

	lastIndex int
	lastLen   int
}

// OpenCapture opens devicePath for read-write, non-blocking streaming
// I/O. It does not request buffers or start streaming; call Resize for
// that.
func OpenCapture(devicePath string) (*Capture, error) {
	fd, err := syscall.Open(devicePath, syscall.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devicePath, err)
	}
	return &Capture{devicePath: devicePath, fd: fd, lastIndex: -1}, nil
}

// Close unmaps all buffers and closes the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unmapAllLocked()
	return syscall.Close(c.fd)
}

// StreamOn enables streaming if it is not already active. Idempotent.
func (c *Capture) StreamOn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return nil
	}
	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := ioctl(c.fd, VIDIOC_STREAMON, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	c.streaming = true
	return nil
}

// StreamOff disables streaming if active. Idempotent.
func (c *Capture) StreamOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return nil
	}
	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := ioctl(c.fd, VIDIOC_STREAMOFF, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	c.streaming = false
	for i := range c.buffers {
		c.buffers[i].queued = false
	}
	return nil
}

// SetFormat requests fourcc at width x height via VIDIOC_S_FMT and returns
// the format the driver actually negotiated, which may differ from what
// was requested.
func (c *Capture) SetFormat(fourcc, width, height uint32) (negotiated uint32, err error) {
	format := v4l2_format{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	format.pix.width = width
	format.pix.height = height
	format.pix.pixelformat = fourcc
	if err := ioctl(c.fd, VIDIOC_S_FMT, unsafe.Pointer(&format)); err != nil {
		return 0, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	return format.pix.pixelformat, nil
}

// GetFormat reads the currently active capture format.
func (c *Capture) GetFormat() (fourcc, width, height uint32, err error) {
	format := v4l2_format{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	if err := ioctl(c.fd, VIDIOC_G_FMT, unsafe.Pointer(&format)); err != nil {
		return 0, 0, 0, fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}
	return format.pix.pixelformat, format.pix.width, format.pix.height, nil
}

// QueryDVTimings reads the device's currently detected DV timings and
// returns width/height, for resolution-change detection. Zero dimensions
// mean no signal.
func (c *Capture) QueryDVTimings() (width, height uint32, err error) {
	timings := v4l2_dv_timings{}
	if err := ioctl(c.fd, VIDIOC_QUERY_DV_TIMINGS, unsafe.Pointer(&timings)); err != nil {
		return 0, 0, fmt.Errorf("VIDIOC_QUERY_DV_TIMINGS: %w", err)
	}
	return timings.bt.width, timings.bt.height, nil
}

// SetDVTimings echoes the queried DV timings back to the device, which
// some HDMI bridge chips require before frames start flowing at the new
// resolution.
func (c *Capture) SetDVTimings(width, height uint32) error {
	timings := v4l2_dv_timings{}
	if err := ioctl(c.fd, VIDIOC_QUERY_DV_TIMINGS, unsafe.Pointer(&timings)); err != nil {
		return fmt.Errorf("VIDIOC_QUERY_DV_TIMINGS: %w", err)
	}
	if err := ioctl(c.fd, VIDIOC_S_DV_TIMINGS, unsafe.Pointer(&timings)); err != nil {
		return fmt.Errorf("VIDIOC_S_DV_TIMINGS: %w", err)
	}
	return nil
}

// Resize stops streaming if active, unmaps existing buffers, re-requests
// NumStreamingBuffers mmap buffers, maps and queues each, and restarts
// streaming if it had been active.
func (c *Capture) Resize() error {
	c.mu.Lock()
	wasStreaming := c.streaming
	c.mu.Unlock()

	if wasStreaming {
		if err := c.StreamOff(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.unmapAllLocked()

	req := v4l2_requestbuffers{
		count:  NumStreamingBuffers,
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	if err := ioctl(c.fd, VIDIOC_REQBUFS, unsafe.Pointer(&req)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}

	buffers := make([]Buffer, req.count)
	for i := uint32(0); i < req.count; i++ {
		buf := v4l2_buffer{
			index:  i,
			typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
			memory: V4L2_MEMORY_MMAP,
		}
		if err := ioctl(c.fd, VIDIOC_QUERYBUF, unsafe.Pointer(&buf)); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("VIDIOC_QUERYBUF[%d]: %w", i, err)
		}
		data, err := syscall.Mmap(c.fd, int64(buf.offset), int(buf.length),
			syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		buffers[i] = Buffer{data: data}

		qbuf := v4l2_buffer{index: i, typ: V4L2_BUF_TYPE_VIDEO_CAPTURE, memory: V4L2_MEMORY_MMAP}
		if err := ioctl(c.fd, VIDIOC_QBUF, unsafe.Pointer(&qbuf)); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("VIDIOC_QBUF[%d]: %w", i, err)
		}
		buffers[i].queued = true
	}
	c.buffers = buffers
	c.lastIndex = -1
	c.mu.Unlock()

	if wasStreaming {
		return c.StreamOn()
	}
	return nil
}

// unmapAllLocked releases mmap'd memory for all buffers. Caller holds mu.
func (c *Capture) unmapAllLocked() {
	for i := range c.buffers {
		if c.buffers[i].data != nil {
			_ = syscall.Munmap(c.buffers[i].data)
		}
	}
	c.buffers = nil
}

// GetFrame dequeues completed buffers until one without the error flag is
// found, records it as the current frame, then requeues every buffer that
// isn't the current one and isn't already queued.
func (c *Capture) GetFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		buf := v4l2_buffer{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE, memory: V4L2_MEMORY_MMAP}
		err := ioctl(c.fd, VIDIOC_DQBUF, unsafe.Pointer(&buf))
		if err != nil {
			if err == syscall.EAGAIN {
				return nil
			}
			return fmt.Errorf("VIDIOC_DQBUF: %w", err)
		}

		idx := int(buf.index)
		if idx < 0 || idx >= len(c.buffers) {
			continue
		}
		c.buffers[idx].queued = false

		if buf.flags&V4L2_BUF_FLAG_ERROR == 0 {
			c.lastIndex = idx
			c.lastLen = int(buf.bytesused)
			break
		}
	}

	for i := range c.buffers {
		if i == c.lastIndex || c.buffers[i].queued {
			continue
		}
		qbuf := v4l2_buffer{index: uint32(i), typ: V4L2_BUF_TYPE_VIDEO_CAPTURE, memory: V4L2_MEMORY_MMAP}
		if err := ioctl(c.fd, VIDIOC_QBUF, unsafe.Pointer(&qbuf)); err != nil {
			return fmt.Errorf("VIDIOC_QBUF[%d]: %w", i, err)
		}
		c.buffers[i].queued = true
	}
	return nil
}

// Data returns the bytes of the most recently dequeued frame, or nil if
// none has been captured yet.
func (c *Capture) Data() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastIndex < 0 || c.lastIndex >= len(c.buffers) {
		return nil
	}
	return c.buffers[c.lastIndex].data[:c.lastLen]
}
