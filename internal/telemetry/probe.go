package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"framegate/internal/services"
	"framegate/internal/services/backend"
)

// Snapshot is one GPU memory reading.
type Snapshot struct {
	Name   string
	UsedMB float64
}

// GPUProbe reads current GPU memory use.
type GPUProbe interface {
	Name() string
	Snapshot(ctx context.Context) (Snapshot, error)
}

// StatsSource is the backend surface BackendProbe reads.
type StatsSource interface {
	SystemStats(ctx context.Context) (backend.SystemStats, error)
}

// BackendProbe reads the primary device from the backend's system stats.
type BackendProbe struct {
	Source StatsSource
}

// Name implements GPUProbe.
func (BackendProbe) Name() string { return "backend system stats" }

// Snapshot implements GPUProbe.
func (p BackendProbe) Snapshot(ctx context.Context) (Snapshot, error) {
	if p.Source == nil {
		return Snapshot{}, errors.New("no backend configured")
	}
	stats, err := p.Source.SystemStats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	device, ok := stats.Primary()
	if !ok {
		return Snapshot{}, errors.New("backend reported no devices")
	}
	return Snapshot{Name: device.Name, UsedMB: device.VRAMUsedMB()}, nil
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// SMIProbe queries nvidia-smi on the local host. It is only meaningful when
// the backend shares this machine's GPU, so it serves as a degraded
// substitute for BackendProbe.
type SMIProbe struct {
	Binary string
	Run    CommandRunner
}

// Name implements GPUProbe.
func (SMIProbe) Name() string { return "nvidia-smi" }

// Snapshot implements GPUProbe.
func (p SMIProbe) Snapshot(ctx context.Context) (Snapshot, error) {
	binary := strings.TrimSpace(p.Binary)
	if binary == "" {
		binary = "nvidia-smi"
	}
	run := p.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, binary, "--query-gpu=name,memory.used", "--format=csv,noheader,nounits")
	if err != nil {
		return Snapshot{}, services.Wrap(services.ErrExternalTool, "telemetry", "nvidia-smi", "query failed", err)
	}
	return parseSMI(out)
}

// parseSMI reads the first "name, used" line.
func parseSMI(out []byte) (Snapshot, error) {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ",")
		if idx < 0 {
			return Snapshot{}, fmt.Errorf("unexpected nvidia-smi output %q", line)
		}
		used, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse nvidia-smi memory %q: %w", line, err)
		}
		return Snapshot{Name: strings.TrimSpace(line[:idx]), UsedMB: used}, nil
	}
	return Snapshot{}, errors.New("nvidia-smi reported no devices")
}

// ChainProbe tries each probe in order. Every probe that fails before one
// succeeds leaves a fallback note.
type ChainProbe []GPUProbe

// Capture returns the first successful snapshot and the notes describing
// the probes that failed on the way. ok is false when every probe failed.
func (c ChainProbe) Capture(ctx context.Context, phase string) (snap Snapshot, notes []string, ok bool) {
	for i, probe := range c {
		s, err := probe.Snapshot(ctx)
		if err == nil {
			return s, notes, true
		}
		next := "no GPU reading recorded"
		if i+1 < len(c) {
			next = "falling back to " + c[i+1].Name()
		}
		notes = append(notes, fmt.Sprintf("%s: %s failed (%v); %s", phase, probe.Name(), err, next))
	}
	return Snapshot{}, notes, false
}
