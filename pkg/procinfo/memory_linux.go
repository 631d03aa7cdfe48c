//go:build linux

package procinfo

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// residentMemory returns resident memory not shared with other processes
func residentMemory(ctx context.Context, p *process.Process) uint64 {
	if ex, err := p.MemoryInfoExWithContext(ctx); err == nil {
		if ex.RSS > ex.Shared {
			return ex.RSS - ex.Shared
		}
		return 0
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		return mem.RSS
	}
	return 0
}
