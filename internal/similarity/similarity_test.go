package similarity

import (
	"math"
	"math/rand"
	"testing"

	"framegate/internal/imagedecode"
)

func TestScoreReflexive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		buf := make([]byte, 1+rng.Intn(500))
		rng.Read(buf)
		if got := Score(buf, buf); got != 100 {
			t.Fatalf("Score(a, a) = %v, want 100", got)
		}
	}
}

func TestScoreSymmetricAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		a := make([]byte, rng.Intn(300))
		b := make([]byte, rng.Intn(300))
		rng.Read(a)
		rng.Read(b)
		ab, ba := Score(a, b), Score(b, a)
		if ab != ba {
			t.Fatalf("Score not symmetric: %v vs %v", ab, ba)
		}
		if ab < 0 || ab > 100 || math.IsNaN(ab) {
			t.Fatalf("Score out of range: %v", ab)
		}
	}
}

func TestScoreKnownValues(t *testing.T) {
	cases := []struct {
		name string
		a, b []byte
		want float64
	}{
		{"both empty", nil, nil, 0},
		{"one empty", []byte{1, 2, 3}, nil, 0},
		{"max difference", []byte{0, 0}, []byte{255, 255}, 0},
		{"half difference", []byte{0, 255}, []byte{255, 255}, 50},
		{"prefix only", []byte{10, 20}, []byte{10, 20, 200, 200}, 100},
	}
	for _, tc := range cases {
		if got := Score(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: Score = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCompareAveragesBoundaryScores(t *testing.T) {
	ref := imagedecode.PixelBuffer{Width: 2, Height: 1, Channels: 1, BitDepth: 8, Data: []byte{0, 0}}
	same := ref
	opposite := imagedecode.PixelBuffer{Width: 2, Height: 1, Channels: 1, BitDepth: 8, Data: []byte{255, 255}}

	got := Compare(ref, same, ref, opposite)
	if got.StartSimilarity != 100 || got.EndSimilarity != 0 || got.AverageSimilarity != 50 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestCompareToleratesMismatchedShapes(t *testing.T) {
	small := imagedecode.PixelBuffer{Width: 1, Height: 1, Channels: 3, BitDepth: 8, Data: []byte{1, 2, 3}}
	large := imagedecode.PixelBuffer{Width: 4, Height: 4, Channels: 4, BitDepth: 8, Data: make([]byte, 64)}
	got := Compare(small, large, imagedecode.PixelBuffer{}, large)
	if got.EndSimilarity != 0 {
		t.Fatalf("empty reference should score 0, got %v", got.EndSimilarity)
	}
	if got.StartSimilarity <= 0 || got.StartSimilarity > 100 {
		t.Fatalf("unexpected start score %v", got.StartSimilarity)
	}
}

func TestNewResultClamps(t *testing.T) {
	got := NewResult(150, math.NaN())
	if got.StartSimilarity != 100 || got.EndSimilarity != 0 || got.AverageSimilarity != 50 {
		t.Fatalf("unexpected clamped result %+v", got)
	}
}
