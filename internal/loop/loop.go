// Package loop provides a single-threaded task executor. All tasks run one
// at a time on the goroutine that called Run, in FIFO order.
package loop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when posting to a loop that has stopped.
var ErrClosed = errors.New("loop is closed")

// Task is a unit of work run on the loop goroutine.
type Task func()

// Loop is a FIFO task queue drained by one goroutine.
//
// Regular tasks run in the order they were posted. Tasks passed to Defer run
// on the next turn: after the task that deferred them returns and before any
// regular task still waiting in the queue.
type Loop struct {
	logger *zap.Logger

	mu       sync.Mutex
	tasks    []Task
	deferred []Task
	running  bool
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// New creates a loop. It does nothing until Run is called.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues task behind every task already waiting.
func (l *Loop) Post(task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.tasks = append(l.tasks, task)
	l.signal()

	return nil
}

// Defer queues task for the next turn. It is meant to be called from inside
// a running task.
func (l *Loop) Defer(task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.deferred = append(l.deferred, task)
	l.signal()

	return nil
}

// Call posts task and waits until it has run. It must not be called from a
// task running on the same loop.
func (l *Loop) Call(ctx context.Context, task Task) error {
	finished := make(chan struct{})

	err := l.Post(func() {
		defer close(finished)

		task()
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run the task just before stopping.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle waits until the loop has no queued or deferred work left.
func (l *Loop) Settle(ctx context.Context) error {
	for {
		if err := l.Call(ctx, func() {}); err != nil {
			return err
		}

		if l.Idle() {
			return nil
		}
	}
}

// Idle reports whether nothing is queued.
func (l *Loop) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.tasks) == 0 && len(l.deferred) == 0
}

// Run drains the queue until ctx is done or Close is called. Tasks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()

		return ErrClosed
	}

	l.running = true
	l.mu.Unlock()

	defer l.shutdown()

	for {
		task, closed := l.next()

		switch {
		case closed:
			return nil
		case task != nil:
			l.run(task)

			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the loop. If Run is active, Close waits for the current task
// to finish.
func (l *Loop) Close() {
	l.mu.Lock()
	running := l.running
	alreadyClosed := l.closed
	l.closed = true
	l.signal()
	l.mu.Unlock()

	if alreadyClosed {
		return
	}

	if running {
		<-l.done
	} else {
		close(l.done)
	}
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, true
	}

	if len(l.deferred) > 0 {
		task := l.deferred[0]
		l.deferred = l.deferred[1:]

		return task, false
	}

	if len(l.tasks) > 0 {
		task := l.tasks[0]
		l.tasks = l.tasks[1:]

		return task, false
	}

	return nil, false
}

func (l *Loop) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	task()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := len(l.tasks) + len(l.deferred)
	if dropped > 0 {
		l.logger.Debug("dropping queued tasks", zap.Int("count", dropped))
	}

	l.tasks = nil
	l.deferred = nil
	l.closed = true
	l.running = false

	close(l.done)
}

// signal wakes Run. Callers hold l.mu.
func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
