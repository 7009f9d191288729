package video

import (
	"testing"

	"github.com/openbmc/ikvmd/pkg/linuxav/v4l2"
)

func TestPixelFormatFromFourCC(t *testing.T) {
	tests := []struct {
		fourcc uint32
		want   PixelFormat
	}{
		{v4l2.V4L2_PIX_FMT_RGB24, PixelFormatRGB24},
		{v4l2.V4L2_PIX_FMT_RGB565, PixelFormatRGB565},
		{v4l2.V4L2_PIX_FMT_JPEG, PixelFormatJPEG},
		{v4l2.V4L2_PIX_FMT_MJPEG, PixelFormatJPEG},
		{v4l2.V4L2_PIX_FMT_HEXTILE, PixelFormatHextile},
		{0xdeadbeef, PixelFormatRGB24},
	}
	for _, tt := range tests {
		if got := pixelFormatFromFourCC(tt.fourcc); got != tt.want {
			t.Errorf("pixelFormatFromFourCC(%#x) = %v, want %v", tt.fourcc, got, tt.want)
		}
	}
}

func TestRequestedFourCC(t *testing.T) {
	if got := requestedFourCC(0); got != v4l2.V4L2_PIX_FMT_JPEG {
		t.Errorf("requestedFourCC(0) = %#x, want JPEG", got)
	}
	if got := requestedFourCC(1); got != v4l2.V4L2_PIX_FMT_HEXTILE {
		t.Errorf("requestedFourCC(1) = %#x, want HEXTILE", got)
	}
}
