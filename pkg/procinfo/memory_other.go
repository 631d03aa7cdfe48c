//go:build !linux

package procinfo

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// residentMemory returns the resident set size; shared pages are not reported here
func residentMemory(ctx context.Context, p *process.Process) uint64 {
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		return mem.RSS
	}
	return 0
}
