package images

import (
	"encoding/binary"
	"testing"
)

func pngHeader(w, h uint32) []byte {
	b := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
	b = binary.BigEndian.AppendUint32(b, w)
	b = binary.BigEndian.AppendUint32(b, h)
	return append(b, 8, 6, 0, 0, 0)
}

func gifHeader(w, h uint16) []byte {
	b := []byte("GIF89a")
	b = binary.LittleEndian.AppendUint16(b, w)
	b = binary.LittleEndian.AppendUint16(b, h)
	return append(b, 0, 0, 0)
}

// jpegHeader has an APP0 segment followed by a baseline SOF0 frame header.
func jpegHeader(w, h uint16) []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1, 0, 1, 0, 0}
	b = append(b, 0xFF, 0xC0, 0x00, 0x11, 0x08)
	b = binary.BigEndian.AppendUint16(b, h)
	b = binary.BigEndian.AppendUint16(b, w)
	return append(b, 3, 1, 0x22, 0, 2, 0x11, 1, 3, 0x11, 1)
}

func webpVP8Header(w, h uint16) []byte {
	b := []byte("RIFF\x00\x00\x00\x00WEBPVP8 \x00\x00\x00\x00")
	b = append(b, 0x30, 0x01, 0x00, 0x9d, 0x01, 0x2a)
	b = binary.LittleEndian.AppendUint16(b, w)
	b = binary.LittleEndian.AppendUint16(b, h)
	return b
}

func webpVP8LHeader(w, h uint32) []byte {
	b := []byte("RIFF\x00\x00\x00\x00WEBPVP8L\x00\x00\x00\x00\x2f")
	bits := (w - 1) | (h-1)<<14
	return binary.LittleEndian.AppendUint32(b, bits)
}

func webpVP8XHeader(w, h uint32) []byte {
	b := []byte("RIFF\x00\x00\x00\x00WEBPVP8X\x0a\x00\x00\x00\x00\x00\x00\x00")
	w--
	h--
	return append(b, byte(w), byte(w>>8), byte(w>>16), byte(h), byte(h>>8), byte(h>>16))
}

func TestSniffDimensions(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		w, h int
	}{
		{"png", pngHeader(640, 480), 640, 480},
		{"gif", gifHeader(320, 200), 320, 200},
		{"jpeg", jpegHeader(1024, 768), 1024, 768},
		{"webp vp8", webpVP8Header(800, 600), 800, 600},
		{"webp vp8 masks scale bits", webpVP8Header(0xC000|800, 0x4000|600), 800, 600},
		{"webp vp8l", webpVP8LHeader(1920, 1080), 1920, 1080},
		{"webp vp8x", webpVP8XHeader(4000, 3000), 4000, 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := SniffDimensions(tt.data)
			if w == nil || h == nil {
				t.Fatalf("SniffDimensions returned nil for %s", tt.name)
			}
			if *w != tt.w || *h != tt.h {
				t.Errorf("got %dx%d; want %dx%d", *w, *h, tt.w, tt.h)
			}
		})
	}
}

func TestSniffDimensionsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("<html><body>not found</body></html>")},
		{"truncated png", pngHeader(10, 10)[:18]},
		{"truncated gif", gifHeader(10, 10)[:8]},
		{"jpeg without frame", []byte{0xFF, 0xD8, 0xFF, 0xD9}},
		{"truncated jpeg", jpegHeader(10, 10)[:24]},
		{"jpeg garbage after soi", []byte{0xFF, 0xD8, 0x00, 0x01, 0x02}},
		{"truncated webp", webpVP8Header(10, 10)[:27]},
		{"zero sized png", pngHeader(0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := SniffDimensions(tt.data)
			if w != nil || h != nil {
				t.Errorf("expected nil dimensions, got %v x %v", w, h)
			}
		})
	}
}
