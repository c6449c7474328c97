package imagedecode_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"testing"

	"framegate/internal/imagedecode"
	"framegate/internal/services"
	"framegate/internal/testsupport"
)

func TestDecodeConcatenatesIDATChunksAndUnfilters(t *testing.T) {
	pixels := testsupport.GradientRGB(23, 17)
	for _, chunks := range []int{1, 2, 5, 40} {
		data := testsupport.BuildPNG(t, testsupport.PNGSpec{
			Width: 23, Height: 17, BitDepth: 8, ColorType: imagedecode.ColorRGB,
			Pixels: pixels, Filters: []byte{0, 1, 2, 3, 4}, IDATChunks: chunks,
		})
		buf, err := imagedecode.Decode(data)
		if err != nil {
			t.Fatalf("chunks=%d: Decode: %v", chunks, err)
		}
		if buf.Width != 23 || buf.Height != 17 || buf.Channels != 3 || buf.BitDepth != 8 {
			t.Fatalf("chunks=%d: unexpected shape %+v", chunks, buf)
		}
		if !bytes.Equal(buf.Data, pixels) {
			t.Fatalf("chunks=%d: decoded pixels differ from source", chunks)
		}
	}
}

func TestDecodeFirstIDATOnlyIsTruncated(t *testing.T) {
	pixels := testsupport.GradientRGB(64, 64)
	data := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 64, Height: 64, BitDepth: 8, ColorType: imagedecode.ColorRGB,
		Pixels: pixels, Filters: []byte{4}, IDATChunks: 4,
	})
	_, err := imagedecode.Decode(keepFirstIDAT(t, data))
	var decodeErr *imagedecode.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !errors.Is(err, services.ErrDecode) {
		t.Fatalf("expected decode marker, got %v", err)
	}
}

func TestDecodeMatchesStandardLibraryRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 31, 9))
	for i := range src.Pix {
		src.Pix[i] = byte(i*13 + i/7)
	}
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf, err := imagedecode.Decode(encoded.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Channels != 4 || !bytes.Equal(buf.Data, src.Pix) {
		t.Fatalf("pixels differ from image/png reference (channels=%d)", buf.Channels)
	}
}

func TestDecodeSubByteGrayscaleScalesToEightBits(t *testing.T) {
	cases := []struct {
		depth  int
		packed []byte
		want   []byte
	}{
		{1, []byte{0b10100000}, []byte{255, 0, 255, 0}},
		{2, []byte{0b00011011}, []byte{0, 85, 170, 255}},
		{4, []byte{0x0f, 0x80}, []byte{0, 255, 136, 0}},
	}
	for _, tc := range cases {
		data := testsupport.BuildPNG(t, testsupport.PNGSpec{
			Width: 4, Height: 1, BitDepth: tc.depth, ColorType: imagedecode.ColorGray, Pixels: tc.packed,
		})
		buf, err := imagedecode.Decode(data)
		if err != nil {
			t.Fatalf("depth %d: Decode: %v", tc.depth, err)
		}
		if buf.Channels != 1 || buf.BitDepth != 8 || !bytes.Equal(buf.Data, tc.want) {
			t.Fatalf("depth %d: got %v (channels=%d depth=%d), want %v", tc.depth, buf.Data, buf.Channels, buf.BitDepth, tc.want)
		}
	}
}

func TestDecodePaletteWithTransparency(t *testing.T) {
	palette := []byte{255, 0, 0, 0, 255, 0, 0, 0, 255}
	data := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 3, Height: 1, BitDepth: 2, ColorType: imagedecode.ColorPalette,
		Pixels: []byte{0b00011000}, Palette: palette, Trns: []byte{0, 128},
	})
	buf, err := imagedecode.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []byte{255, 0, 0, 0, 0, 255, 0, 128, 0, 0, 255, 255}
	if buf.Channels != 4 || !bytes.Equal(buf.Data, want) {
		t.Fatalf("got %v channels=%d, want %v", buf.Data, buf.Channels, want)
	}
}

func TestDecodePaletteIndexOutOfRange(t *testing.T) {
	data := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 2, Height: 1, BitDepth: 8, ColorType: imagedecode.ColorPalette,
		Pixels: []byte{0, 3}, Palette: []byte{1, 2, 3},
	})
	if _, err := imagedecode.Decode(data); !errors.Is(err, services.ErrDecode) {
		t.Fatalf("expected decode error for bad index, got %v", err)
	}
}

func TestDecodeSixteenBitKeepsSampleBytes(t *testing.T) {
	pixels := make([]byte, 5*3*3*2)
	for i := range pixels {
		pixels[i] = byte(i * 5)
	}
	data := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 5, Height: 3, BitDepth: 16, ColorType: imagedecode.ColorRGB,
		Pixels: pixels, Filters: []byte{1, 3, 4}, IDATChunks: 2,
	})
	buf, err := imagedecode.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.BitDepth != 16 || buf.Channels != 3 || !bytes.Equal(buf.Data, pixels) {
		t.Fatalf("unexpected 16-bit decode: depth=%d channels=%d", buf.BitDepth, buf.Channels)
	}
}

func TestDecodeGrayAlpha(t *testing.T) {
	pixels := []byte{10, 255, 20, 128, 30, 0, 40, 64}
	data := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 2, Height: 2, BitDepth: 8, ColorType: imagedecode.ColorGrayAlpha, Pixels: pixels, Filters: []byte{2},
	})
	buf, err := imagedecode.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Channels != 2 || !bytes.Equal(buf.Data, pixels) {
		t.Fatalf("got %v", buf.Data)
	}
}

func TestDecodeChecksumVerificationIsOptional(t *testing.T) {
	data := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 4, Height: 4, BitDepth: 8, ColorType: imagedecode.ColorRGB,
		Pixels: testsupport.GradientRGB(4, 4), CorruptCRC: true,
	})
	if _, err := imagedecode.Decode(data); err != nil {
		t.Fatalf("default decode should ignore checksums: %v", err)
	}
	if _, err := imagedecode.DecodeWithOptions(data, imagedecode.Options{VerifyChecksums: true}); !errors.Is(err, services.ErrDecode) {
		t.Fatalf("expected checksum failure, got %v", err)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	valid := testsupport.KeyframePNG(t, 8, 8, testsupport.GradientRGB(8, 8))
	interlaced := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 2, Height: 2, BitDepth: 8, ColorType: imagedecode.ColorRGB,
		Pixels: testsupport.SolidRGB(2, 2, 1, 2, 3), Interlace: 1,
	})
	badFilter := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 2, Height: 2, BitDepth: 8, ColorType: imagedecode.ColorRGB,
		Pixels: testsupport.SolidRGB(2, 2, 1, 2, 3), Filters: []byte{5},
	})
	badDepth := testsupport.BuildPNG(t, testsupport.PNGSpec{
		Width: 1, Height: 1, BitDepth: 8, ColorType: imagedecode.ColorRGB, Pixels: []byte{1, 2, 3},
	})
	badDepth[8+8+8] = 4 // IHDR bit depth 4 is invalid for RGB

	cases := map[string][]byte{
		"empty":          nil,
		"not png":        []byte("GIF89a not a png at all"),
		"signature only": imagedecode.Signature,
		"truncated":      valid[:len(valid)-30],
		"interlaced":     interlaced,
		"unknown filter": badFilter,
		"invalid depth":  badDepth,
	}
	for name, data := range cases {
		_, err := imagedecode.Decode(data)
		var decodeErr *imagedecode.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("%s: expected DecodeError, got %v", name, err)
		}
		if services.ErrorKind(err) != "decode" {
			t.Fatalf("%s: unexpected kind %q", name, services.ErrorKind(err))
		}
	}
}

// keepFirstIDAT rewrites a PNG so only its first IDAT chunk survives.
func keepFirstIDAT(t *testing.T, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	out.Write(data[:8])
	seen := false
	for pos := 8; pos < len(data); {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		kind := string(data[pos+4 : pos+8])
		end := pos + 12 + length
		if kind == "IDAT" {
			if seen {
				pos = end
				continue
			}
			seen = true
		}
		out.Write(data[pos:end])
		pos = end
	}
	return out.Bytes()
}
