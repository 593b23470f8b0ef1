package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus represents the last known state of a job.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFulfill JobStatus = "fulfill"
	StatusReject  JobStatus = "reject"
)

// Job defines a periodic background task.
type Job struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

type jobState struct {
	Job
	mu        sync.Mutex
	status    JobStatus
	message   string
	lastRunAt time.Time
	runs      int
}

// Snapshot is the observable state of a registered job.
type Snapshot struct {
	Name      string    `json:"name"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	LastRunAt time.Time `json:"lastRunAt"`
	Runs      int       `json:"runs"`
}

// Scheduler runs named jobs on fixed intervals.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*jobState
	logger *zap.Logger
}

// New creates an empty Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:   make(map[string]*jobState),
		logger: logger.Named("Cron"),
	}
}

// Register adds a job. Must be called before Start. Non-positive intervals are rejected.
func (s *Scheduler) Register(job Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", job.Name)
	}
	if job.Fn == nil {
		return fmt.Errorf("job %q: missing fn", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &jobState{Job: job, status: StatusIdle}
	return nil
}

// Start runs every registered job until ctx is done, then returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	var wg sync.WaitGroup
	for _, js := range s.jobs {
		wg.Add(1)
		go func(js *jobState) {
			defer wg.Done()
			s.runLoop(ctx, js)
		}(js)
	}
	s.mu.RUnlock()
	wg.Wait()
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, js *jobState) {
	ticker := time.NewTicker(js.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, js)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) {
	js.mu.Lock()
	if js.status == StatusRunning {
		js.mu.Unlock()
		return
	}
	js.status = StatusRunning
	js.mu.Unlock()

	now := time.Now()
	err := js.Fn(ctx)

	js.mu.Lock()
	js.lastRunAt = now
	js.runs++
	if err != nil {
		js.status = StatusReject
		js.message = err.Error()
	} else {
		js.status = StatusFulfill
		js.message = ""
	}
	js.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed", zap.String("job", js.Name), zap.Error(err))
	}
}

// Run triggers a job synchronously.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	s.execute(ctx, js)
	return nil
}

// List returns a snapshot of all registered jobs sorted by name.
func (s *Scheduler) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Snapshot, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		items = append(items, Snapshot{
			Name:      js.Name,
			Status:    js.status,
			Message:   js.message,
			LastRunAt: js.lastRunAt,
			Runs:      js.runs,
		})
		js.mu.Unlock()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}
