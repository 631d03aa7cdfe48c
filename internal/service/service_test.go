package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lavamon/pkg/procinfo"
)

type call struct {
	stdout string
	stderr string
	err    error
}

// scriptedRunner answers scheduler commands from a fixed script
type scriptedRunner struct {
	mu    sync.Mutex
	calls map[string]call
	seen  []string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.seen = append(r.seen, line)
	c, ok := r.calls[line]
	if !ok {
		return "", "command not found", errors.New("exit status 127")
	}
	return c.stdout, c.stderr, c.err
}

func (r *scriptedRunner) script(calls map[string]call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = calls
}

// fakeInspector serves a fixed process table
type fakeInspector struct {
	procs    []*procinfo.ProcessInfo
	usage    map[int32]*procinfo.ProcessInfo
	inspects int
}

func (f *fakeInspector) Processes(_ context.Context) ([]*procinfo.ProcessInfo, error) {
	return f.procs, nil
}

func (f *fakeInspector) Inspect(_ context.Context, pids []int32) (map[int32]*procinfo.ProcessInfo, error) {
	f.inspects++
	out := make(map[int32]*procinfo.ProcessInfo, len(pids))
	for _, pid := range pids {
		if info, ok := f.usage[pid]; ok {
			out[pid] = info
		}
	}
	return out, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

const gib = 1024 * 1024 * 1024
