package conversion

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// MemoryStats is a snapshot of host memory.
type MemoryStats struct {
	UsedPercent float64
	Available   uint64
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("memory usage %.1f%% (available %.1f GB)", m.UsedPercent, float64(m.Available)/(1<<30))
}

// MemoryProbe reports host memory utilisation.
type MemoryProbe interface {
	Usage(ctx context.Context) (*MemoryStats, error)
}

type hostMemory struct{}

// NewHostMemoryProbe reads virtual memory statistics from the OS.
func NewHostMemoryProbe() MemoryProbe {
	return hostMemory{}
}

func (hostMemory) Usage(ctx context.Context) (*MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	return &MemoryStats{UsedPercent: vm.UsedPercent, Available: vm.Available}, nil
}
