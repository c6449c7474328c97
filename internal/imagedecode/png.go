package imagedecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

// Signature is the eight-byte PNG file signature.
var Signature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// PNG color types.
const (
	ColorGray      = 0
	ColorRGB       = 2
	ColorPalette   = 3
	ColorGrayAlpha = 4
	ColorRGBA      = 6
)

// maxPixels bounds allocations for hostile headers (64 megapixels).
const maxPixels = 64 << 20

// PixelBuffer holds decoded samples in row-major order with interleaved
// channels. Sub-byte grayscale is scaled to 8 bits and palette images are
// expanded to RGB or RGBA; 16-bit images keep two big-endian bytes per
// sample, so len(Data) == Width*Height*Channels*(BitDepth/8).
type PixelBuffer struct {
	Width    int
	Height   int
	Channels int
	BitDepth int
	Data     []byte
}

// SameShape reports whether two buffers have identical dimensions, channel
// count, and depth.
func (p PixelBuffer) SameShape(other PixelBuffer) bool {
	return p.Width == other.Width && p.Height == other.Height && p.Channels == other.Channels && p.BitDepth == other.BitDepth
}

// Options tunes decoding.
type Options struct {
	// VerifyChecksums rejects chunks whose CRC does not match.
	VerifyChecksums bool
}

type header struct {
	width     int
	height    int
	bitDepth  int
	colorType int
	interlace int
}

// Decode decodes a PNG without checksum verification.
func Decode(data []byte) (PixelBuffer, error) {
	return DecodeWithOptions(data, Options{})
}

// DecodeFile reads and decodes the PNG at path.
func DecodeFile(path string, opts Options) (PixelBuffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PixelBuffer{}, decodeErr("read file", err)
	}
	return DecodeWithOptions(data, opts)
}

// DecodeWithOptions decodes a PNG byte stream.
func DecodeWithOptions(data []byte, opts Options) (PixelBuffer, error) {
	if len(data) < len(Signature) || !bytes.Equal(data[:len(Signature)], Signature) {
		return PixelBuffer{}, decodeErrf("missing png signature")
	}

	var (
		hdr      *header
		palette  []byte
		trns     []byte
		idat     bytes.Buffer
		sawIDAT  bool
		sawIEND  bool
		position = len(Signature)
	)

	for position < len(data) && !sawIEND {
		if len(data)-position < 12 {
			return PixelBuffer{}, decodeErrf("truncated chunk header at offset %d", position)
		}
		length := binary.BigEndian.Uint32(data[position : position+4])
		if length > 1<<31-1 || int(length) > len(data)-position-12 {
			return PixelBuffer{}, decodeErrf("chunk at offset %d overruns input", position)
		}
		kind := string(data[position+4 : position+8])
		body := data[position+8 : position+8+int(length)]
		crc := binary.BigEndian.Uint32(data[position+8+int(length) : position+12+int(length)])
		if opts.VerifyChecksums {
			if got := crc32.ChecksumIEEE(data[position+4 : position+8+int(length)]); got != crc {
				return PixelBuffer{}, decodeErrf("%s chunk checksum mismatch", kind)
			}
		}
		position += 12 + int(length)

		if hdr == nil && kind != "IHDR" {
			return PixelBuffer{}, decodeErrf("first chunk is %s, want IHDR", kind)
		}

		switch kind {
		case "IHDR":
			if hdr != nil {
				return PixelBuffer{}, decodeErrf("duplicate IHDR")
			}
			parsed, err := parseHeader(body)
			if err != nil {
				return PixelBuffer{}, err
			}
			hdr = &parsed
		case "PLTE":
			if len(body) == 0 || len(body)%3 != 0 || len(body)/3 > 256 {
				return PixelBuffer{}, decodeErrf("invalid PLTE length %d", len(body))
			}
			palette = body
		case "tRNS":
			trns = body
		case "IDAT":
			sawIDAT = true
			idat.Write(body)
		case "IEND":
			sawIEND = true
		}
	}

	if hdr == nil {
		return PixelBuffer{}, decodeErrf("missing IHDR")
	}
	if !sawIDAT {
		return PixelBuffer{}, decodeErrf("missing IDAT")
	}
	if hdr.colorType == ColorPalette && palette == nil {
		return PixelBuffer{}, decodeErrf("palette image without PLTE")
	}

	bitsPerPixel := hdr.bitDepth * samplesPerPixel(hdr.colorType)
	stride := (hdr.width*bitsPerPixel + 7) / 8
	raw, err := inflate(idat.Bytes(), hdr.height*(stride+1))
	if err != nil {
		return PixelBuffer{}, err
	}
	if err := unfilter(raw, hdr.height, stride, max(1, bitsPerPixel/8)); err != nil {
		return PixelBuffer{}, err
	}
	return expand(*hdr, raw, stride, palette, trns)
}

func parseHeader(body []byte) (header, error) {
	if len(body) != 13 {
		return header{}, decodeErrf("IHDR length %d, want 13", len(body))
	}
	h := header{
		width:     int(binary.BigEndian.Uint32(body[0:4])),
		height:    int(binary.BigEndian.Uint32(body[4:8])),
		bitDepth:  int(body[8]),
		colorType: int(body[9]),
		interlace: int(body[12]),
	}
	if h.width <= 0 || h.height <= 0 {
		return header{}, decodeErrf("invalid dimensions %dx%d", h.width, h.height)
	}
	if h.width > maxPixels/h.height {
		return header{}, decodeErrf("image %dx%d exceeds pixel limit", h.width, h.height)
	}
	if body[10] != 0 {
		return header{}, decodeErrf("unsupported compression method %d", body[10])
	}
	if body[11] != 0 {
		return header{}, decodeErrf("unsupported filter method %d", body[11])
	}
	if h.interlace != 0 {
		return header{}, decodeErrf("interlaced images are not supported")
	}
	if !validDepth(h.colorType, h.bitDepth) {
		return header{}, decodeErrf("invalid bit depth %d for color type %d", h.bitDepth, h.colorType)
	}
	return h, nil
}

func validDepth(colorType, depth int) bool {
	switch colorType {
	case ColorGray:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case ColorPalette:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8
	case ColorRGB, ColorGrayAlpha, ColorRGBA:
		return depth == 8 || depth == 16
	default:
		return false
	}
}

func samplesPerPixel(colorType int) int {
	switch colorType {
	case ColorRGB:
		return 3
	case ColorGrayAlpha:
		return 2
	case ColorRGBA:
		return 4
	default:
		return 1
	}
}

func inflate(compressed []byte, want int) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, decodeErr("open zlib stream", err)
	}
	defer reader.Close()

	out := make([]byte, want)
	if _, err := io.ReadFull(reader, out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, decodeErr("image data truncated", err)
		}
		return nil, decodeErr("inflate image data", err)
	}
	return out, nil
}
