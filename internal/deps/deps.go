package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary and the configured command for it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of resolving one Requirement. Path is the resolved
// executable when Available.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

// CheckBinaries resolves every requirement through PATH, in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = req.resolve()
	}
	return results
}

// Missing returns the unavailable statuses, optional ones included only when
// withOptional is set.
func Missing(statuses []Status, withOptional bool) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && (withOptional || !s.Optional) {
			out = append(out, s)
		}
	}
	return out
}

func (r Requirement) resolve() Status {
	s := Status{
		Name:        r.Name,
		Command:     strings.TrimSpace(r.Command),
		Description: strings.TrimSpace(r.Description),
		Optional:    r.Optional,
	}
	if s.Command == "" {
		s.Detail = "command not configured"
		return s
	}
	path, err := exec.LookPath(s.Command)
	if err != nil {
		s.Detail = fmt.Sprintf("binary %q not found", s.Command)
		return s
	}
	s.Available = true
	s.Path = path
	return s
}
