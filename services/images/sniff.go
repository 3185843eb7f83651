package images

import (
	"bytes"
	"encoding/binary"
)

var (
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	vp8StartCode = []byte{0x9d, 0x01, 0x2a}
)

// SniffDimensions reads width and height from the header of a PNG, JPEG, GIF
// or WebP byte stream. Both results are nil when the format is not
// recognised or the header is truncated.
func SniffDimensions(data []byte) (width, height *int) {
	var w, h int
	var ok bool

	switch {
	case bytes.HasPrefix(data, pngSignature):
		w, h, ok = pngSize(data)
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		w, h, ok = jpegSize(data)
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		w, h, ok = gifSize(data)
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		w, h, ok = webpSize(data)
	}

	if !ok || w <= 0 || h <= 0 {
		return nil, nil
	}
	return &w, &h
}

// pngSize reads the IHDR chunk, which must directly follow the signature.
func pngSize(data []byte) (int, int, bool) {
	if len(data) < 24 || !bytes.Equal(data[12:16], []byte("IHDR")) {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint32(data[16:20])), int(binary.BigEndian.Uint32(data[20:24])), true
}

func gifSize(data []byte) (int, int, bool) {
	if len(data) < 10 {
		return 0, 0, false
	}
	return int(binary.LittleEndian.Uint16(data[6:8])), int(binary.LittleEndian.Uint16(data[8:10])), true
}

// jpegSize walks the marker segments until it finds a start-of-frame header.
func jpegSize(data []byte) (int, int, bool) {
	i := 2
	for i < len(data) {
		if data[i] != 0xFF {
			return 0, 0, false
		}
		// fill bytes may precede a marker
		for i < len(data) && data[i] == 0xFF {
			i++
		}
		if i >= len(data) {
			return 0, 0, false
		}
		marker := data[i]
		i++

		switch {
		case marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			continue // standalone markers carry no length
		case marker == 0xD9 || marker == 0xDA:
			return 0, 0, false // end of image or start of scan before any frame
		}

		if i+2 > len(data) {
			return 0, 0, false
		}
		length := int(binary.BigEndian.Uint16(data[i : i+2]))
		if length < 2 {
			return 0, 0, false
		}

		if isSOF(marker) {
			// length(2) precision(1) height(2) width(2)
			if i+7 > len(data) {
				return 0, 0, false
			}
			h := int(binary.BigEndian.Uint16(data[i+3 : i+5]))
			w := int(binary.BigEndian.Uint16(data[i+5 : i+7]))
			return w, h, true
		}
		i += length
	}
	return 0, 0, false
}

// isSOF reports whether marker is one of SOF0..SOF15, excluding DHT (C4),
// JPG (C8) and DAC (CC) which share the range.
func isSOF(marker byte) bool {
	return marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC
}

func webpSize(data []byte) (int, int, bool) {
	if len(data) < 16 {
		return 0, 0, false
	}
	switch string(data[12:16]) {
	case "VP8 ":
		// 3-byte frame tag at 20, start code at 23, then 14-bit dimensions
		if len(data) < 30 || !bytes.Equal(data[23:26], vp8StartCode) {
			return 0, 0, false
		}
		w := int(binary.LittleEndian.Uint16(data[26:28]) & 0x3FFF)
		h := int(binary.LittleEndian.Uint16(data[28:30]) & 0x3FFF)
		return w, h, true
	case "VP8L":
		// signature byte 0x2f, then 14-bit width-1 and height-1
		if len(data) < 25 || data[20] != 0x2F {
			return 0, 0, false
		}
		bits := binary.LittleEndian.Uint32(data[21:25])
		w := int(bits&0x3FFF) + 1
		h := int((bits>>14)&0x3FFF) + 1
		return w, h, true
	case "VP8X":
		// 24-bit canvas width-1 and height-1
		if len(data) < 30 {
			return 0, 0, false
		}
		w := int(uint32(data[24])|uint32(data[25])<<8|uint32(data[26])<<16) + 1
		h := int(uint32(data[27])|uint32(data[28])<<8|uint32(data[29])<<16) + 1
		return w, h, true
	}
	return 0, 0, false
}
