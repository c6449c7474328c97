// Package fileutil copies artifacts with end-to-end integrity checks.
package fileutil

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// CopyVerified copies src to dst and returns the BLAKE3 hex digest of the
// content. The copy is written to dst+".part", read back, and renamed only
// when its size and digest match the source. Parent directories are created.
func CopyVerified(src, dst string, mode os.FileMode) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}
	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	srcHash := blake3.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHash))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("copy: %w", err)
	}
	if written != info.Size() {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}

	want := hex.EncodeToString(srcHash.Sum(nil))
	got, err := Digest(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if got != want {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("copy digest mismatch: %s was corrupted during copy", filepath.Base(dst))
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize copy: %w", err)
	}
	return want, nil
}

// Digest returns the BLAKE3 hex digest of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Within reports whether path is dir or lies beneath it.
func Within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
