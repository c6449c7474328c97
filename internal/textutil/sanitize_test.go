package textutil

import "testing"

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://127.0.0.1:8188", "http___127_0_0_1_8188"},
		{"Bookend-01", "bookend-01"},
		{"  ", "unknown"},
		{"***", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.in); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName(" scene: 1/2? "); got != "scene- 1-2" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"sunset-pier_02", "Sunset Pier 02"},
		{"forest.walk", "Forest Walk"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.in); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileNameDropsControlCharacters(t *testing.T) {
	if got := SanitizeFileName("clip\x00_01\t.mp4"); got != "clip_01.mp4" {
		t.Fatalf("unexpected %q", got)
	}
}
