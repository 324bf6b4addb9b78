package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "logsift/pkg/errors"
)

type Event string

const (
	EventStart    Event = "start"
	EventProgress Event = "progress"
	EventFinish   Event = "finish"
	// EventRemove is published by owners when a job is discarded. Jobs never
	// emit it themselves.
	EventRemove Event = "remove"
)

type State int

const (
	StateCreated State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Progress is the last reported position of a job. The zero value reads as
// 0 of 1.
type Progress struct {
	Event   Event `json:"event"`
	Max     int64 `json:"max"`
	Current int64 `json:"current"`
}

func (p Progress) normalized() Progress {
	if p.Max == 0 && p.Current == 0 {
		p.Max = 1
	}
	return p
}

// Reporter records the task's position. It is cheap and never blocks on
// subscribers.
type Reporter func(max, current int64)

// Task is the work of a job. A returned error or a panic is captured on the
// job and reported with the finish event.
type Task[T any] func(ctx context.Context, payload T, report Reporter) error

// Listener receives lifecycle and progress events, one at a time.
type Listener func(p Progress)

const DefaultInterval = time.Second

type Option func(*options)

type options struct {
	interval time.Duration
}

// WithInterval sets how often a running job re-publishes its progress.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// Job runs a Task once in the background. Progress published by the task
// is sampled by a ticker, so fast tasks do not flood subscribers.
type Job[T any] struct {
	id       string
	payload  T
	task     Task[T]
	interval time.Duration

	mu         sync.Mutex
	state      State
	progress   Progress
	err        error
	startedAt  time.Time
	finishedAt time.Time
	listener   Listener

	emitMu sync.Mutex
	done   chan struct{}
}

func New[T any](payload T, task Task[T], opts ...Option) *Job[T] {
	o := options{interval: DefaultInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return &Job[T]{
		id:       uuid.NewString(),
		payload:  payload,
		task:     task,
		interval: o.interval,
		done:     make(chan struct{}),
	}
}

func (j *Job[T]) ID() string {
	return j.id
}

func (j *Job[T]) Payload() T {
	return j.payload
}

// OnUpdate sets the single subscriber. Set it before Start to see the start
// event.
func (j *Job[T]) OnUpdate(l Listener) {
	j.mu.Lock()
	j.listener = l
	j.mu.Unlock()
}

// Start launches the worker and the progress ticker. Only the first call
// has an effect. The job outlives ctx cancellation; ctx only carries values.
func (j *Job[T]) Start(ctx context.Context) {
	j.mu.Lock()
	if j.state != StateCreated {
		j.mu.Unlock()
		return
	}
	j.state = StateRunning
	j.startedAt = time.Now()
	j.progress = Progress{Event: EventStart}.normalized()
	j.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	stop := make(chan struct{})
	tickerDone := make(chan struct{})

	go j.tick(stop, tickerDone)
	go j.work(ctx, stop, tickerDone)
}

func (j *Job[T]) work(ctx context.Context, stop chan<- struct{}, tickerDone <-chan struct{}) {
	defer close(j.done)

	j.emit(j.Progress())
	err := j.run(ctx)

	close(stop)
	<-tickerDone

	j.mu.Lock()
	j.err = err
	j.finishedAt = time.Now()
	j.state = StateFinished
	j.progress.Event = EventFinish
	p := j.progress
	j.mu.Unlock()

	j.emit(p)
}

func (j *Job[T]) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return j.task(ctx, j.payload, j.report)
}

func (j *Job[T]) report(max, current int64) {
	j.mu.Lock()
	j.progress = Progress{Event: EventProgress, Max: max, Current: current}
	j.mu.Unlock()
}

func (j *Job[T]) tick(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if p := j.Progress(); p.Event == EventProgress {
				j.emit(p)
			}
		}
	}
}

func (j *Job[T]) emit(p Progress) {
	j.mu.Lock()
	l := j.listener
	j.mu.Unlock()
	if l == nil {
		return
	}

	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	l(p)
}

// Join waits up to timeout for the job to finish. A non-positive timeout
// waits forever. It reports whether the job has finished.
func (j *Job[T]) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-j.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-j.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed once the finish event has been delivered.
func (j *Job[T]) Done() <-chan struct{} {
	return j.done
}

func (j *Job[T]) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress.normalized()
}

func (j *Job[T]) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job[T]) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job[T]) Alive() bool {
	return j.State() == StateRunning
}

func (j *Job[T]) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt
}

func (j *Job[T]) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}
