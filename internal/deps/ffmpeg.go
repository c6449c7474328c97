package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckCompanion reports the binary used for companion, a tool that ships
// alongside primary. Static ffmpeg builds unpack ffmpeg and ffprobe into the
// same directory, often one that is not on PATH, so a companion sitting next
// to the resolved primary wins over PATH lookup.
func CheckCompanion(primaryCommand, companion, description string) Status {
	result := Status{
		Name:        companion,
		Description: description,
	}

	if primary := strings.TrimSpace(primaryCommand); primary != "" {
		if resolved, err := exec.LookPath(primary); err == nil {
			candidate := filepath.Join(filepath.Dir(resolved), executableName(companion))
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Path = candidate
				result.Available = true
				return result
			}
		}
	}

	if path, err := exec.LookPath(companion); err == nil {
		result.Command = path
		result.Path = path
		result.Available = true
		return result
	}

	result.Command = companion
	result.Detail = fmt.Sprintf("binary %q not found", companion)
	return result
}

// IsBareName reports whether command is a plain executable name that is
// resolved through PATH rather than an explicit path.
func IsBareName(command string) bool {
	command = strings.TrimSpace(command)
	return command != "" && !strings.ContainsRune(command, filepath.Separator) && !strings.ContainsRune(command, '/')
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
