package procinfo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is a point-in-time view of one process. Fields that could not be
// read stay at their zero value.
type ProcessInfo struct {
	PID        int32
	PPID       int32
	Name       string
	Cmdline    string
	Username   string
	CreateTime int64 // milliseconds since epoch
	Status     string
	NumThreads int32
	CPU        float64 // cores busy since the previous inspection of this pid
	Memory     uint64  // bytes
	Children   []int32 // all descendants
}

// Inspector reads process state on the local host
type Inspector interface {
	// Processes inspects every process not owned by an excluded user
	Processes(ctx context.Context) ([]*ProcessInfo, error)
	// Inspect inspects the given pids; pids that vanished are omitted
	Inspect(ctx context.Context, pids []int32) (map[int32]*ProcessInfo, error)
}

// ProcessInspector implements Inspector with gopsutil. CPU usage is measured
// between two inspections of the same pid through one ProcessInspector, so the
// first inspection of a pid reports zero. Each Processes or Inspect call keeps
// only the pids it saw in the cache.
type ProcessInspector struct {
	excludeUsers map[string]struct{}

	mu    sync.Mutex
	cache map[int32]*trackedProcess
}

// trackedProcess is a cached handle together with the creation time it was
// cached under, so a reused pid is detected
type trackedProcess struct {
	proc    *process.Process
	created int64
}

// NewInspector creates an inspector that skips processes owned by excludeUsers
func NewInspector(excludeUsers ...string) *ProcessInspector {
	excluded := make(map[string]struct{}, len(excludeUsers))
	for _, u := range excludeUsers {
		excluded[u] = struct{}{}
	}
	return &ProcessInspector{
		excludeUsers: excluded,
		cache:        make(map[int32]*trackedProcess),
	}
}

// Processes implements Inspector
func (i *ProcessInspector) Processes(ctx context.Context) ([]*ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	parents := make(map[int32]int32, len(procs))
	seen := make(map[int32]struct{}, len(procs))
	var infos []*ProcessInfo
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			parents[p.Pid] = ppid
		}
		if len(i.excludeUsers) > 0 {
			user, err := p.UsernameWithContext(ctx)
			if err != nil {
				continue
			}
			if _, skip := i.excludeUsers[user]; skip {
				continue
			}
		}
		infos = append(infos, i.inspect(ctx, i.track(ctx, p, seen)))
	}
	i.prune(seen)

	tree := childrenByParent(parents)
	for _, info := range infos {
		info.Children = Descendants(tree, info.PID)
	}
	return infos, nil
}

// Inspect implements Inspector
func (i *ProcessInspector) Inspect(ctx context.Context, pids []int32) (map[int32]*ProcessInfo, error) {
	infos := make(map[int32]*ProcessInfo, len(pids))
	seen := make(map[int32]struct{}, len(pids))
	for _, pid := range pids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		infos[pid] = i.inspect(ctx, i.track(ctx, p, seen))
	}
	i.prune(seen)
	return infos, nil
}

// track returns the cached handle of p's pid, replacing it when the pid now
// belongs to a process with a different creation time
func (i *ProcessInspector) track(ctx context.Context, p *process.Process, seen map[int32]struct{}) *process.Process {
	created, _ := p.CreateTimeWithContext(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()
	seen[p.Pid] = struct{}{}
	if known, ok := i.cache[p.Pid]; ok && known.created == created {
		return known.proc
	}
	i.cache[p.Pid] = &trackedProcess{proc: p, created: created}
	return p
}

// prune drops every cached pid not seen in the last pass
func (i *ProcessInspector) prune(seen map[int32]struct{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for pid := range i.cache {
		if _, ok := seen[pid]; !ok {
			delete(i.cache, pid)
		}
	}
}

func (i *ProcessInspector) inspect(ctx context.Context, p *process.Process) *ProcessInfo {
	info := &ProcessInfo{PID: p.Pid}

	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	}
	if user, err := p.UsernameWithContext(ctx); err == nil {
		info.Username = user
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		info.CreateTime = created
	}
	if status, err := p.StatusWithContext(ctx); err == nil {
		info.Status = strings.Join(status, ",")
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		info.NumThreads = threads
	}
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		info.PPID = ppid
	}
	// Percent reports 100 per fully busy core
	if percent, err := p.PercentWithContext(ctx, 0); err == nil {
		info.CPU = percent / 100
	}
	info.Memory = residentMemory(ctx, p)

	return info
}

func childrenByParent(parents map[int32]int32) map[int32][]int32 {
	tree := make(map[int32][]int32)
	for pid, ppid := range parents {
		if pid == ppid {
			continue
		}
		tree[ppid] = append(tree[ppid], pid)
	}
	for ppid := range tree {
		sort.Slice(tree[ppid], func(a, b int) bool { return tree[ppid][a] < tree[ppid][b] })
	}
	return tree
}

// Descendants returns every pid below root in a parent-to-children tree, depth first
func Descendants(tree map[int32][]int32, root int32) []int32 {
	var out []int32
	seen := map[int32]struct{}{root: {}}
	var walk func(pid int32)
	walk = func(pid int32) {
		for _, child := range tree[pid] {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
			walk(child)
		}
	}
	walk(root)
	return out
}
