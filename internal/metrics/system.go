package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemSample is one instantaneous OS resource reading.
type SystemSample struct {
	CPUPercent      float64
	MemoryUsedBytes uint64
	MemoryPercent   float64
	DiskPercent     float64
}

// SystemSampler reads current OS-level resource usage. Implementations must
// be safe for concurrent use; the registry calls Sample on every snapshot.
type SystemSampler interface {
	Sample(ctx context.Context) (SystemSample, error)
}

// HostSampler reads usage for the local host via gopsutil.
type HostSampler struct {
	// DiskPath is the mount point measured for disk utilization.
	// Defaults to the filesystem root.
	DiskPath string
}

// Sample reads CPU, memory and disk utilization. CPU percent is measured
// since the previous call, so the first reading after process start may be
// zero.
func (s HostSampler) Sample(ctx context.Context) (SystemSample, error) {
	var sample SystemSample

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, fmt.Errorf("metrics: sample cpu: %w", err)
	}
	if len(cpuPercents) > 0 {
		sample.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("metrics: sample memory: %w", err)
	}
	sample.MemoryUsedBytes = vm.Used
	sample.MemoryPercent = vm.UsedPercent

	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return sample, fmt.Errorf("metrics: sample disk: %w", err)
	}
	sample.DiskPercent = usage.UsedPercent

	return sample, nil
}
