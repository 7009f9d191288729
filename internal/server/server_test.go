package server

import (
	"testing"

	"github.com/openbmc/ikvmd/internal/rfb"
	"github.com/openbmc/ikvmd/internal/video"
)

func TestProcessTime(t *testing.T) {
	tests := []struct {
		frameRate int
		want      int
	}{
		{frameRate: 10, want: 1_000_000/10 - 100},
		{frameRate: 30, want: 1_000_000/30 - 100},
		{frameRate: 20000, want: 0},
	}
	for _, tt := range tests {
		if got := processTime(tt.frameRate); got != tt.want {
			t.Errorf("processTime(%d) = %d, want %d", tt.frameRate, got, tt.want)
		}
	}
}

func TestPixelFormatFor(t *testing.T) {
	if got := pixelFormatFor(video.PixelFormatRGB24); got != rfb.StandardPixelFormat {
		t.Errorf("RGB24 should use the standard pixel format")
	}
	if got := pixelFormatFor(video.PixelFormatJPEG); got != rfb.StandardPixelFormat {
		t.Errorf("JPEG should use the standard pixel format")
	}
	if got := pixelFormatFor(video.PixelFormatRGB565); got != rfb.RGB565PixelFormat {
		t.Errorf("RGB565 should use the RGB565 pixel format")
	}
	if got := pixelFormatFor(video.PixelFormatHextile); got != rfb.RGB565PixelFormat {
		t.Errorf("Hextile should use the RGB565 pixel format")
	}
}

func TestFrameKindFor(t *testing.T) {
	tests := []struct {
		pf   video.PixelFormat
		want rfb.FrameKind
	}{
		{video.PixelFormatRGB24, rfb.FrameRaw},
		{video.PixelFormatRGB565, rfb.FrameRaw},
		{video.PixelFormatJPEG, rfb.FrameJPEG},
		{video.PixelFormatHextile, rfb.FrameHextile},
	}
	for _, tt := range tests {
		if got := frameKindFor(tt.pf); got != tt.want {
			t.Errorf("frameKindFor(%v) = %v, want %v", tt.pf, got, tt.want)
		}
	}
}
