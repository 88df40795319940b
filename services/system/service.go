// Package system reports host resource usage and restarts the process.
package system

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

// NoGPUStatus is reported when nvidia-smi is missing or fails
const NoGPUStatus = "No GPU status detected"

const (
	cpuSampleInterval = 200 * time.Millisecond
	defaultResetDelay = 500 * time.Millisecond
)

// CPUUsage describes processor load
type CPUUsage struct {
	Percent float64   `json:"percent"`
	Cores   int       `json:"cores"`
	Load    []float64 `json:"load_average,omitempty"`
}

// MemoryUsage is reported in bytes
type MemoryUsage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskUsage describes the filesystem holding the data directory
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// ResourceUsage is the resource usage report
type ResourceUsage struct {
	Hostname string      `json:"hostname,omitempty"`
	Uptime   uint64      `json:"uptime_seconds,omitempty"`
	CPU      CPUUsage    `json:"cpu"`
	Memory   MemoryUsage `json:"memory"`
	Disk     *DiskUsage  `json:"disk,omitempty"`
	GPU      string      `json:"gpu"`
}

// GPUProbe returns the raw GPU status text
type GPUProbe func(ctx context.Context) (string, error)

// Terminator stops the running process
type Terminator func() error

// Service reads host statistics and owns process reset
type Service struct {
	dataDir    string
	gpu        GPUProbe
	terminate  Terminator
	resetDelay time.Duration
	logger     *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithGPUProbe replaces the nvidia-smi probe
func WithGPUProbe(p GPUProbe) Option {
	return func(s *Service) { s.gpu = p }
}

// WithTerminator replaces the SIGTERM sent on reset
func WithTerminator(t Terminator, delay time.Duration) Option {
	return func(s *Service) {
		s.terminate = t
		s.resetDelay = delay
	}
}

// NewService creates a system service. dataDir, when set, is reported under disk.
func NewService(dataDir string, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		dataDir:    dataDir,
		gpu:        nvidiaSMI,
		terminate:  sigterm,
		resetDelay: defaultResetDelay,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResourceUsage samples CPU, memory, disk and GPU state. Host, load and disk figures are
// best effort; CPU and memory failures are errors.
func (s *Service) ResourceUsage(ctx context.Context) (*ResourceUsage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to read memory usage", err)
	}
	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return nil, services.WrapInternal("failed to read cpu usage", err)
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, services.WrapInternal("failed to read cpu count", err)
	}

	usage := &ResourceUsage{
		CPU: CPUUsage{Cores: cores},
		Memory: MemoryUsage{
			Total:       vm.Total,
			Used:        vm.Used,
			Available:   vm.Available,
			UsedPercent: vm.UsedPercent,
		},
		GPU: NoGPUStatus,
	}
	if len(percents) > 0 {
		usage.CPU.Percent = percents[0]
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		usage.Hostname = info.Hostname
		usage.Uptime = info.Uptime
	} else {
		s.logger.Debug("host info unavailable", zap.Error(err))
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		usage.CPU.Load = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if s.dataDir != "" {
		if d, err := disk.UsageWithContext(ctx, s.dataDir); err == nil {
			usage.Disk = &DiskUsage{
				Path:        s.dataDir,
				Total:       d.Total,
				Used:        d.Used,
				Free:        d.Free,
				UsedPercent: d.UsedPercent,
			}
		} else {
			s.logger.Debug("disk usage unavailable", zap.String("path", s.dataDir), zap.Error(err))
		}
	}

	if out, err := s.gpu(ctx); err == nil && strings.TrimSpace(out) != "" {
		usage.GPU = out
	}
	return usage, nil
}

// Reset terminates the process after a short delay so the caller's response can be
// written first. A supervisor is expected to restart it.
func (s *Service) Reset() {
	s.logger.Warn("process reset requested", zap.Duration("delay", s.resetDelay))
	time.AfterFunc(s.resetDelay, func() {
		if err := s.terminate(); err != nil {
			s.logger.Error("failed to terminate process", zap.Error(err))
		}
	})
}

func nvidiaSMI(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "nvidia-smi").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func sigterm() error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}
