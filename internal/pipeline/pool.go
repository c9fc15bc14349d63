// internal/pipeline/pool.go
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskStatus is the lifecycle state of a submitted task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// DefaultTaskMaxAge is how long finished tasks stay in the history.
const DefaultTaskMaxAge = time.Hour

var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a snapshot of one submitted task.
type Task struct {
	Name      string     `json:"name"`
	Status    TaskStatus `json:"status"`
	Submitted time.Time  `json:"submitted"`
	Started   time.Time  `json:"started,omitzero"`
	Finished  time.Time  `json:"finished,omitzero"`
	Error     string     `json:"error,omitempty"`
}

// Job is the handle returned by Submit.
type Job struct {
	name string
	done chan struct{}
	err  error
}

func (j *Job) Name() string { return j.name }

// Done is closed when the task returns.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err is the task's error. It is only meaningful after Done is closed.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// WorkerPool runs named tasks with at most `workers` running at once and
// keeps a bounded history of their outcomes.
type WorkerPool struct {
	sem     chan struct{}
	history int
	maxAge  time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	tasks  map[string]*Task
	active map[string]*Job
	seq    map[string]uint64
	next   uint64
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPool(workers, history int, logger zerolog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if history < 1 {
		history = 1
	}
	return &WorkerPool{
		sem:     make(chan struct{}, workers),
		history: history,
		maxAge:  DefaultTaskMaxAge,
		logger:  logger.With().Str("component", "worker_pool").Logger(),
		now:     time.Now,
		tasks:   make(map[string]*Task),
		active:  make(map[string]*Job),
		seq:     make(map[string]uint64),
	}
}

// Submit schedules fn under name. If a task with the same name is still
// pending or running, its Job is returned and fn is dropped. A panic in fn
// is turned into the task's error.
func (p *WorkerPool) Submit(name string, fn func() error) (*Job, error) {
	if name == "" {
		return nil, errors.New("task name is required")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if j, ok := p.active[name]; ok {
		p.mu.Unlock()
		p.logger.Warn().Str("task", name).Msg("Task already queued, returning existing job")
		return j, nil
	}

	j := &Job{name: name, done: make(chan struct{})}
	p.active[name] = j
	p.tasks[name] = &Task{Name: name, Status: TaskPending, Submitted: p.now()}
	p.next++
	p.seq[name] = p.next
	p.cleanupLocked()
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(j, fn)
	return j, nil
}

func (p *WorkerPool) run(j *Job, fn func() error) {
	defer p.wg.Done()
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	p.setStatus(j.name, TaskRunning, nil)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return fn()
	}()

	if err != nil {
		p.logger.Error().Err(err).Str("task", j.name).Msg("Task failed")
		p.setStatus(j.name, TaskFailed, err)
	} else {
		p.setStatus(j.name, TaskCompleted, nil)
	}

	p.mu.Lock()
	j.err = err
	delete(p.active, j.name)
	p.cleanupLocked()
	p.mu.Unlock()
	close(j.done)
}

func (p *WorkerPool) setStatus(name string, status TaskStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[name]
	if !ok {
		return
	}
	t.Status = status
	switch status {
	case TaskRunning:
		t.Started = p.now()
	case TaskCompleted, TaskFailed:
		t.Finished = p.now()
	}
	if err != nil {
		t.Error = err.Error()
	}
}

// cleanupLocked drops finished tasks older than maxAge, then the oldest
// finished tasks until the history fits.
func (p *WorkerPool) cleanupLocked() {
	now := p.now()
	for name, t := range p.tasks {
		if finished(t) && now.Sub(t.Finished) > p.maxAge {
			p.drop(name)
		}
	}
	if len(p.tasks) <= p.history {
		return
	}

	names := make([]string, 0, len(p.tasks))
	for name, t := range p.tasks {
		if finished(t) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, k int) bool { return p.seq[names[i]] < p.seq[names[k]] })
	for _, name := range names {
		if len(p.tasks) <= p.history {
			break
		}
		p.drop(name)
	}
}

func (p *WorkerPool) drop(name string) {
	delete(p.tasks, name)
	delete(p.seq, name)
}

func finished(t *Task) bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// Task returns the recorded state of name.
func (p *WorkerPool) Task(name string) (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[name]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns the task history in submission order.
func (p *WorkerPool) Tasks() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, k int) bool { return p.seq[out[i].Name] < p.seq[out[k].Name] })
	return out
}

// Close stops accepting tasks and waits for submitted ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
