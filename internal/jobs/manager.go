package jobs

import (
	"context"
	"sync"
	"time"

	"lavamon/pkg/logger"
)

// defaultInterval replaces a non-positive job interval
const defaultInterval = time.Minute

// Job is a periodic sampling or monitoring pass.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob is a job whose runs start on interval boundaries (e.g. every full five minutes),
// so sample times from different hosts line up.
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// Status is the run history of one registered job
type Status struct {
	Name         string    `json:"name"`
	Interval     string    `json:"interval"`
	Aligned      bool      `json:"aligned"`
	Runs         int64     `json:"runs"`
	Failures     int64     `json:"failures"`
	LastStart    time.Time `json:"last_start,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	NextRun      time.Time `json:"next_run,omitempty"`
}

// Manager runs each registered job on its own schedule until stopped.
// A run that outlasts its interval delays the next one instead of overlapping it.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	mu      sync.Mutex
	jobs    []Job
	status  map[string]*Status
	started bool

	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
		status: make(map[string]*Status),
	}
}

// Register adds a job to the manager. Jobs registered after Start never run.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	m.status[job.Name()] = &Status{
		Name:     job.Name(),
		Interval: intervalOf(job).String(),
		Aligned:  isAligned(job),
	}
}

// Jobs returns the registered job names.
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, job := range m.jobs {
		names = append(names, job.Name())
	}
	return names
}

// Statuses returns a copy of every job's run history in registration order
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *m.status[job.Name()])
	}
	return out
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.loop(job)
	}
}

// Stop signals all jobs to stop. A pass in flight sees its context cancelled
// and rolls back its batch.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func intervalOf(job Job) time.Duration {
	if every := job.Interval(); every > 0 {
		return every
	}
	return defaultInterval
}

func isAligned(job Job) bool {
	aligned, ok := job.(AlignedJob)
	return ok && aligned.AlignToInterval()
}

// nextRun returns the start of the run following now. Aligned jobs start on
// the next multiple of every; boundaries missed by a long run are skipped.
func nextRun(now time.Time, every time.Duration, aligned bool) time.Time {
	if aligned {
		return now.Truncate(every).Add(every)
	}
	return now.Add(every)
}

func (m *Manager) loop(job Job) {
	defer m.wg.Done()

	every := intervalOf(job)
	aligned := isAligned(job)
	if !aligned {
		m.execute(job)
	}

	for {
		now := m.now()
		next := nextRun(now, every, aligned)
		m.update(job.Name(), func(s *Status) { s.NextRun = next })
		logger.DebugCtx(m.ctx, "job %s runs next at %s (in %v)", job.Name(), next.Format("15:04:05"), next.Sub(now))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.execute(job)
		}
	}
}

func (m *Manager) execute(job Job) {
	ctx := logger.WithTraceID(m.ctx)
	start := m.now()
	err := job.Run(ctx)
	elapsed := m.now().Sub(start)

	m.update(job.Name(), func(s *Status) {
		s.Runs++
		s.LastStart = start
		s.LastDuration = elapsed.String()
		s.LastError = ""
		if err != nil {
			s.Failures++
			s.LastError = err.Error()
		}
	})

	if err != nil {
		logger.WarnCtx(ctx, "background job %s failed after %v: %v", job.Name(), elapsed, err)
		return
	}
	logger.DebugCtx(ctx, "background job %s finished in %v", job.Name(), elapsed)
}

func (m *Manager) update(name string, fn func(s *Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[name]; ok {
		fn(s)
	}
}
