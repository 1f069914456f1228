// Package eventloop provides a single-threaded, epoll-backed task loop used
// to host code that must run its callbacks on one dedicated goroutine.
//
// It is the "externally provided loop" the uvfile engine plugs into: it owns
// no knowledge of files, AIO contexts, or durability. The engine consumes
// two primitives: registering and unregistering a file descriptor for
// readability, and submitting a work item to run on the loop goroutine.
// Unregistering a descriptor takes effect immediately; there is no
// separate handle-close step with a completion callback.
package eventloop

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot call Run() from within the loop")
)

// Task is a unit of work queued for execution on the loop goroutine.
type Task func()

// Loop is a single-threaded, epoll-backed task loop.
//
// Submit and RegisterFD/UnregisterFD/ModifyFD are safe to call from any
// goroutine. Close is safe to call from any goroutine, including from
// within a callback running on the loop itself.
type Loop struct {
	_ [0]func() // makes Loop non-comparable

	state *FastState

	poller FastPoller

	externalMu sync.Mutex
	external   *ChunkedIngress

	wakeFd  int
	wakeBuf [8]byte

	userIOFDCount atomic.Int32

	loopGoroutineID atomic.Uint64
	loopDone        chan struct{}
	stopOnce        sync.Once
	closeOnce       sync.Once
}

// New creates a new Loop, ready to Run.
func New() (*Loop, error) {
	wakeFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		state:    NewFastState(),
		external: NewChunkedIngress(),
		wakeFd:   wakeFd,
		loopDone: make(chan struct{}),
	}

	if err := l.poller.Init(); err != nil {
		_ = unix.Close(wakeFd)
		return nil, err
	}

	if err := l.poller.RegisterFD(wakeFd, EventRead, func(IOEvents) {
		l.drainWakeFd()
	}); err != nil {
		_ = l.poller.Close()
		_ = unix.Close(wakeFd)
		return nil, err
	}

	return l, nil
}

// Run runs the loop and blocks until it terminates via Shutdown, Close, or
// ctx cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.doWakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		default:
		}

		state := l.state.Load()
		if state == StateTerminating || state == StateTerminated {
			l.shutdown()
			return nil
		}

		l.tick()
	}
}

// tick runs one iteration: drain the external queue, then block in epoll
// until an FD is ready or a task is submitted.
func (l *Loop) tick() {
	l.processExternal()
	l.poll()
}

func (l *Loop) processExternal() {
	const budget = 1024
	for i := 0; i < budget; i++ {
		l.externalMu.Lock()
		task, ok := l.external.Pop()
		l.externalMu.Unlock()
		if !ok {
			return
		}
		l.safeExecute(task)
	}
}

func (l *Loop) poll() {
	if l.state.Load() != StateRunning {
		return
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	l.externalMu.Lock()
	pending := l.external.Length() > 0
	l.externalMu.Unlock()
	if pending {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	if l.state.Load() == StateTerminating {
		return
	}

	_, err := l.poller.PollIO(10_000)
	if err != nil {
		l.handlePollError(err)
		return
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

func (l *Loop) handlePollError(err error) {
	log.Printf("eventloop: pollIO failed, terminating loop: %v", err)
	if l.state.TryTransition(StateSleeping, StateTerminating) {
		l.shutdown()
	}
}

// shutdown drains remaining work then releases resources. Called once, on
// the loop goroutine, from Run's termination paths.
func (l *Loop) shutdown() {
	l.state.Store(StateTerminated)

	for {
		l.externalMu.Lock()
		task, ok := l.external.Pop()
		l.externalMu.Unlock()
		if !ok {
			break
		}
		l.safeExecute(task)
	}

	l.closeFDs()
}

// Submit queues a task for execution on the loop goroutine.
func (l *Loop) Submit(task Task) error {
	l.externalMu.Lock()
	if l.state.Load() == StateTerminated {
		l.externalMu.Unlock()
		return ErrLoopTerminated
	}
	l.external.Push(func() { task() })
	l.externalMu.Unlock()

	l.doWakeup()
	return nil
}

func (l *Loop) doWakeup() {
	if l.state.Load() == StateTerminated {
		return
	}
	buf := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = writeFD(l.wakeFd, buf[:])
}

func (l *Loop) drainWakeFd() {
	for {
		_, err := readFD(l.wakeFd, l.wakeBuf[:])
		if err != nil {
			break
		}
	}
}

// RegisterFD registers a file descriptor for I/O event monitoring.
func (l *Loop) RegisterFD(fd int, events IOEvents, callback func(IOEvents)) error {
	err := l.poller.RegisterFD(fd, events, callback)
	if err == nil {
		l.userIOFDCount.Add(1)
	}
	return err
}

// UnregisterFD removes a file descriptor from monitoring.
func (l *Loop) UnregisterFD(fd int) error {
	err := l.poller.UnregisterFD(fd)
	if err == nil {
		l.userIOFDCount.Add(-1)
	}
	return err
}

// ModifyFD updates the events being monitored for a file descriptor.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

func (l *Loop) safeExecute(t Task) {
	if t == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventloop: task panicked: %v", r)
		}
	}()
	t()
}

func (l *Loop) closeFDs() {
	l.closeOnce.Do(func() {
		_ = l.poller.Close()
		_ = closeFD(l.wakeFd)
	})
}

func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && getGoroutineID() == id
}

// getGoroutineID returns the current goroutine's ID, parsed from the stack
// trace. Used only to detect reentrant calls from the loop's own goroutine.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// Shutdown gracefully stops the loop: it waits for Run to drain remaining
// tasks and return.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

func (l *Loop) shutdownImpl(ctx context.Context) error {
	for {
		current := l.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return ErrLoopTerminated
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.closeFDs()
				return nil
			}
			l.doWakeup()
			break
		}
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately terminates the loop without waiting for a graceful
// drain. Safe to call multiple times.
func (l *Loop) Close() error {
	for {
		current := l.state.Load()
		if current == StateTerminated {
			return nil
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.closeFDs()
				return nil
			}
			l.doWakeup()
			return nil
		}
	}
}
