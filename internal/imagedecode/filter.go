package imagedecode

// Scanline filter types.
const (
	FilterNone    = 0
	FilterSub     = 1
	FilterUp      = 2
	FilterAverage = 3
	FilterPaeth   = 4
)

// unfilter reverses per-scanline filtering in place. raw holds height rows of
// one filter byte followed by stride data bytes; bpp is the filter unit in
// bytes (at least 1). The first row sees an all-zero previous row.
func unfilter(raw []byte, height, stride, bpp int) error {
	zero := make([]byte, stride)
	prior := zero
	for y := 0; y < height; y++ {
		rowStart := y * (stride + 1)
		filterType := raw[rowStart]
		row := raw[rowStart+1 : rowStart+1+stride]

		switch filterType {
		case FilterNone:
		case FilterSub:
			for i := bpp; i < stride; i++ {
				row[i] += row[i-bpp]
			}
		case FilterUp:
			for i := 0; i < stride; i++ {
				row[i] += prior[i]
			}
		case FilterAverage:
			for i := 0; i < stride; i++ {
				var left int
				if i >= bpp {
					left = int(row[i-bpp])
				}
				row[i] += byte((left + int(prior[i])) / 2)
			}
		case FilterPaeth:
			for i := 0; i < stride; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prior[i-bpp]
				}
				row[i] += paeth(left, prior[i], upLeft)
			}
		default:
			return decodeErrf("row %d has unknown filter type %d", y, filterType)
		}
		prior = row
	}
	return nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
