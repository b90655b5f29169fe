package system

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// Info is the host snapshot served on the system endpoint.
type Info struct {
	Hostname      string    `json:"hostname"`
	Platform      string    `json:"platform"`
	KernelVersion string    `json:"kernel_version"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	CPU           CPUInfo   `json:"cpu"`
	Memory        MemInfo   `json:"memory"`
	Disk          DiskInfo  `json:"disk"`
	CollectedAt   time.Time `json:"collected_at"`
}

type CPUInfo struct {
	Cores        int     `json:"cores"`
	UsagePercent float64 `json:"usage_percent"`
	Load1        float64 `json:"load_1"`
	Load5        float64 `json:"load_5"`
	Load15       float64 `json:"load_15"`
}

type MemInfo struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

type DiskInfo struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Service reads host metrics through gopsutil.
type Service struct {
	diskPath string
	log      *logrus.Logger
}

func NewService(diskPath string, log *logrus.Logger) *Service {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Service{diskPath: diskPath, log: log}
}

// GetInfo collects one host snapshot. Individual probe failures leave
// their section zeroed rather than failing the whole call.
func (s *Service) GetInfo(ctx context.Context) *Info {
	info := &Info{CollectedAt: time.Now()}

	if hostInfo, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hostInfo.Hostname
		info.Platform = hostInfo.Platform
		info.KernelVersion = hostInfo.KernelVersion
		info.UptimeSeconds = hostInfo.Uptime
	} else {
		s.log.WithError(err).Warn("failed to read host info")
	}

	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPU.Cores = counts
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		info.CPU.UsagePercent = percents[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.CPU.Load1 = avg.Load1
		info.CPU.Load5 = avg.Load5
		info.CPU.Load15 = avg.Load15
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.Memory = MemInfo{
			TotalBytes:  vm.Total,
			UsedBytes:   vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	}

	if usage, err := disk.UsageWithContext(ctx, s.diskPath); err == nil {
		info.Disk = DiskInfo{
			Path:        s.diskPath,
			TotalBytes:  usage.Total,
			UsedBytes:   usage.Used,
			UsedPercent: usage.UsedPercent,
		}
	}

	return info
}
