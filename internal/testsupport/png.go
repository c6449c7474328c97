package testsupport

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// PNGSpec describes a PNG fixture. Pixels holds unfiltered, packed scanlines
// without filter bytes (height rows of stride bytes).
type PNGSpec struct {
	Width     int
	Height    int
	BitDepth  int
	ColorType int
	Pixels    []byte
	Palette   []byte
	Trns      []byte
	// Filters lists the filter type applied to each row, cycling when shorter
	// than Height. Empty means filter type 0 on every row.
	Filters []byte
	// IDATChunks splits the compressed stream into this many IDAT chunks.
	IDATChunks int
	// Interlace sets the IHDR interlace byte without interlacing the data.
	Interlace byte
	// CorruptCRC flips a bit in the first IDAT checksum.
	CorruptCRC bool
}

// BuildPNG encodes spec, applying the requested scanline filters and
// splitting the zlib stream across IDAT chunks.
func BuildPNG(t testing.TB, spec PNGSpec) []byte {
	t.Helper()

	channels := map[int]int{0: 1, 2: 3, 3: 1, 4: 2, 6: 4}[spec.ColorType]
	bitsPerPixel := spec.BitDepth * channels
	stride := (spec.Width*bitsPerPixel + 7) / 8
	bpp := max(1, bitsPerPixel/8)
	if len(spec.Pixels) != stride*spec.Height {
		t.Fatalf("png fixture: pixels length %d, want %d", len(spec.Pixels), stride*spec.Height)
	}

	var filtered bytes.Buffer
	prior := make([]byte, stride)
	for y := 0; y < spec.Height; y++ {
		row := spec.Pixels[y*stride : (y+1)*stride]
		var ft byte
		if len(spec.Filters) > 0 {
			ft = spec.Filters[y%len(spec.Filters)]
		}
		filtered.WriteByte(ft)
		filtered.Write(filterRow(ft, row, prior, bpp))
		prior = row
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(filtered.Bytes()); err != nil {
		t.Fatalf("png fixture: compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("png fixture: close zlib: %v", err)
	}

	var out bytes.Buffer
	out.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(spec.Width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(spec.Height))
	ihdr[8] = byte(spec.BitDepth)
	ihdr[9] = byte(spec.ColorType)
	ihdr[12] = spec.Interlace
	writeChunk(&out, "IHDR", ihdr, false)
	if len(spec.Palette) > 0 {
		writeChunk(&out, "PLTE", spec.Palette, false)
	}
	if len(spec.Trns) > 0 {
		writeChunk(&out, "tRNS", spec.Trns, false)
	}

	chunks := max(1, spec.IDATChunks)
	stream := compressed.Bytes()
	size := (len(stream) + chunks - 1) / chunks
	for i := 0; i < chunks; i++ {
		start := min(i*size, len(stream))
		end := min(start+size, len(stream))
		writeChunk(&out, "IDAT", stream[start:end], spec.CorruptCRC && i == 0)
	}
	writeChunk(&out, "IEND", nil, false)
	return out.Bytes()
}

// SolidRGB returns packed 8-bit RGB pixels of a single color.
func SolidRGB(width, height int, r, g, b byte) []byte {
	out := make([]byte, 0, width*height*3)
	for i := 0; i < width*height; i++ {
		out = append(out, r, g, b)
	}
	return out
}

// GradientRGB returns packed 8-bit RGB pixels that vary across both axes, so
// every scanline filter produces non-trivial residuals.
func GradientRGB(width, height int) []byte {
	out := make([]byte, 0, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out = append(out, byte(x*7+y*3), byte(y*11), byte((x*y)%251))
		}
	}
	return out
}

// KeyframePNG builds an 8-bit RGB PNG with the given pixels split over three
// IDAT chunks and cycling through every filter type.
func KeyframePNG(t testing.TB, width, height int, pixels []byte) []byte {
	t.Helper()
	return BuildPNG(t, PNGSpec{
		Width:      width,
		Height:     height,
		BitDepth:   8,
		ColorType:  2,
		Pixels:     pixels,
		Filters:    []byte{0, 1, 2, 3, 4},
		IDATChunks: 3,
	})
}

func filterRow(ft byte, row, prior []byte, bpp int) []byte {
	out := make([]byte, len(row))
	for i := range row {
		var left, upLeft byte
		if i >= bpp {
			left = row[i-bpp]
			upLeft = prior[i-bpp]
		}
		up := prior[i]
		switch ft {
		case 0:
			out[i] = row[i]
		case 1:
			out[i] = row[i] - left
		case 2:
			out[i] = row[i] - up
		case 3:
			out[i] = row[i] - byte((int(left)+int(up))/2)
		case 4:
			out[i] = row[i] - paethPredict(left, up, upLeft)
		}
	}
	return out
}

func paethPredict(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := p-int(a), p-int(b), p-int(c)
	if pa < 0 {
		pa = -pa
	}
	if pb < 0 {
		pb = -pb
	}
	if pc < 0 {
		pc = -pc
	}
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func writeChunk(out *bytes.Buffer, kind string, data []byte, corrupt bool) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	out.Write(length[:])
	out.WriteString(kind)
	out.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(kind))
	crc.Write(data)
	sum := crc.Sum32()
	if corrupt {
		sum ^= 1
	}
	var tail [4]byte
	binary.BigEndian.PutUint32(tail[:], sum)
	out.Write(tail[:])
}
