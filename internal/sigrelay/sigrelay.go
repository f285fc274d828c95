// Package sigrelay guarantees a supervised child is stopped before the
// supervisor's own process disappears.
//
// It installs one handler per distinct termination event the caller asks for.
// Signal-style events (SIGINT, SIGTERM, ...) are intercepted, the child is
// stopped, and the same signal is then re-delivered to our own PID with the
// default disposition restored, so the supervisor's exit status is exactly what
// a process-tree monitor expects. The two non-signal events, a normal return
// from main ("exit") and a panic ("panic"), have no OS hook in Go and are
// exposed as HandleExit and HandlePanic for the caller to defer.
package sigrelay

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Non-signal termination event names.
const (
	EventExit  = "exit"
	EventPanic = "panic"
)

var signalByName = map[string]syscall.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

// KnownEvent reports whether name is a recognized termination event.
func KnownEvent(name string) bool {
	if name == EventExit || name == EventPanic {
		return true
	}
	_, ok := signalByName[name]
	return ok
}

// Relay coordinates child teardown across every configured termination event.
// A Relay is built once per supervisor instance; Attach and Detach are
// idempotent.
type Relay struct {
	stop   func()
	logger *slog.Logger

	signals     []os.Signal
	handleExit  bool
	handlePanic bool

	mu       sync.Mutex
	attached bool
	sigCh    chan os.Signal
	done     chan struct{}
}

// New builds a Relay for the given event names. stop is invoked to bring the
// child down; it must tolerate being called when no child is tracked.
// Duplicate event names install a single handler. Unknown names are an error.
func New(events []string, stop func(), logger *slog.Logger) (*Relay, error) {
	r := &Relay{
		stop:   stop,
		logger: logger,
	}

	seen := make(map[string]bool, len(events))
	for _, name := range events {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case EventExit:
			r.handleExit = true
		case EventPanic:
			r.handlePanic = true
		default:
			sig, ok := signalByName[name]
			if !ok {
				return nil, fmt.Errorf("unknown termination event %q", name)
			}
			r.signals = append(r.signals, sig)
		}
	}

	return r, nil
}

// Signals returns the set of OS signals the relay will intercept.
func (r *Relay) Signals() []os.Signal {
	return r.signals
}

// PanicHookEnabled reports whether the "panic" termination event is
// configured. Callers that must run recover in their own deferred frame use
// this to decide whether to initiate a stop before re-panicking.
func (r *Relay) PanicHookEnabled() bool {
	return r.handlePanic
}

// Attach installs the OS signal handlers. Calling Attach on an already
// attached relay is a no-op.
func (r *Relay) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attached {
		return
	}
	r.attached = true

	r.sigCh = make(chan os.Signal, 1)
	r.done = make(chan struct{})

	if len(r.signals) > 0 {
		signal.Notify(r.sigCh, r.signals...)
	}

	go r.loop(r.sigCh, r.done)
}

// Detach removes all installed handlers. Calling it more than once is a no-op.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.attached {
		return
	}
	r.attached = false

	signal.Stop(r.sigCh)
	close(r.done)
}

func (r *Relay) loop(sigCh <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-sigCh:
			r.logger.Info("termination signal received, stopping child", "signal", sig.String())
			r.stop()

			// Restore the default disposition and re-deliver, so the
			// process dies with the signal status the sender expects.
			// Reset also stops delivery to sigCh for this signal, which
			// is what makes the handler one-shot.
			signal.Reset(sig)
			r.reraise(sig)
		case <-done:
			return
		}
	}
}

func (r *Relay) reraise(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	if err := syscall.Kill(os.Getpid(), s); err != nil {
		r.logger.Error("re-deliver signal", "signal", sig.String(), "error", err)
	}
}

// HandleExit stops the child before a normal process exit. Intended to be
// deferred in main when the "exit" event is configured. It blocks until the
// child is down.
func (r *Relay) HandleExit() {
	if !r.handleExit {
		return
	}
	r.stop()
}

// HandlePanic is a defer hook for the "panic" event. On a panic it initiates a
// best-effort child stop (fire-and-forget, the process is already crashing)
// and re-raises the original value synchronously so the crash keeps its
// content and stack disposition.
func (r *Relay) HandlePanic() {
	v := recover()
	if v == nil {
		return
	}
	if r.handlePanic {
		go r.stop()
	}
	panic(v)
}
