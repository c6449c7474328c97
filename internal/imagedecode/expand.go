package imagedecode

// expand converts unfiltered scanlines into a PixelBuffer, dropping the filter
// bytes, unpacking sub-byte samples, and resolving palette indices.
func expand(h header, raw []byte, stride int, palette, trns []byte) (PixelBuffer, error) {
	row := func(y int) []byte {
		start := y*(stride+1) + 1
		return raw[start : start+stride]
	}

	switch {
	case h.colorType == ColorPalette:
		return expandPalette(h, row, palette, trns)
	case h.colorType == ColorGray && h.bitDepth < 8:
		buf := PixelBuffer{Width: h.width, Height: h.height, Channels: 1, BitDepth: 8, Data: make([]byte, 0, h.width*h.height)}
		scale := 255 / (1<<h.bitDepth - 1)
		for y := 0; y < h.height; y++ {
			line := row(y)
			for x := 0; x < h.width; x++ {
				buf.Data = append(buf.Data, byte(unpack(line, x, h.bitDepth)*scale))
			}
		}
		return buf, nil
	default:
		channels := samplesPerPixel(h.colorType)
		buf := PixelBuffer{Width: h.width, Height: h.height, Channels: channels, BitDepth: h.bitDepth, Data: make([]byte, 0, h.height*stride)}
		for y := 0; y < h.height; y++ {
			buf.Data = append(buf.Data, row(y)...)
		}
		return buf, nil
	}
}

func expandPalette(h header, row func(int) []byte, palette, trns []byte) (PixelBuffer, error) {
	entries := len(palette) / 3
	channels := 3
	if len(trns) > 0 {
		channels = 4
	}
	buf := PixelBuffer{Width: h.width, Height: h.height, Channels: channels, BitDepth: 8, Data: make([]byte, 0, h.width*h.height*channels)}
	for y := 0; y < h.height; y++ {
		line := row(y)
		for x := 0; x < h.width; x++ {
			idx := unpack(line, x, h.bitDepth)
			if idx >= entries {
				return PixelBuffer{}, decodeErrf("palette index %d out of range (%d entries)", idx, entries)
			}
			buf.Data = append(buf.Data, palette[idx*3], palette[idx*3+1], palette[idx*3+2])
			if channels == 4 {
				alpha := byte(0xff)
				if idx < len(trns) {
					alpha = trns[idx]
				}
				buf.Data = append(buf.Data, alpha)
			}
		}
	}
	return buf, nil
}

// unpack reads the x-th sample of the given depth from a packed scanline.
// Samples are packed most significant bits first.
func unpack(line []byte, x, depth int) int {
	if depth == 8 {
		return int(line[x])
	}
	perByte := 8 / depth
	b := line[x/perByte]
	shift := uint(8 - depth*(x%perByte+1))
	return int(b>>shift) & (1<<depth - 1)
}
