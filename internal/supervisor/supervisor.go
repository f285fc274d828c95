// Package supervisor owns the lifecycle of one external long-running child
// process: spawn, detect readiness over a dedicated file-descriptor side
// channel, restart transparently on unexpected exit, stop on demand. It
// composes the startup, relay and sigrelay packages.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mattjoyce/nanny/internal/relay"
	"github.com/mattjoyce/nanny/internal/sigrelay"
	"github.com/mattjoyce/nanny/internal/startup"
)

const (
	// DefaultStartupTimeout bounds the wait for the child's readiness message.
	DefaultStartupTimeout = 5 * time.Second

	// ConfigEnvVar carries the JSON-serialized inline configuration when the
	// child is spawned with -config=env.
	ConfigEnvVar = "NANNY_CONFIG_JSON"

	// invalidConfigExitCode is the child's reserved "my configuration is
	// broken, do not restart me" exit code (EX_CONFIG from sysexits.h).
	invalidConfigExitCode = 78

	// reporterFD is the descriptor number the child is told to write its
	// readiness message to. ExtraFiles[0] lands on fd 3, after stdin,
	// stdout and stderr.
	reporterFD = 3

	reporterFDFlag = "-listening-reporter-fd"

	// stopGracePeriod is the time a deliberate stop waits after SIGTERM
	// before escalating to SIGKILL.
	stopGracePeriod = 5 * time.Second
)

// DefaultTerminationEvents is the set of host-process termination triggers
// hooked when Config.TerminationEvents is empty.
var DefaultTerminationEvents = []string{
	sigrelay.EventExit,
	sigrelay.EventPanic,
	"SIGINT",
	"SIGTERM",
	"SIGUSR2",
}

// Sentinel errors.
var (
	// ErrAlreadyStarted is returned when Start is called a second time on the
	// same supervisor instance. A caller bug, not a retryable condition.
	ErrAlreadyStarted = errors.New("supervisor already started")

	// ErrNoChild is returned by Stop when no child is currently tracked.
	ErrNoChild = errors.New("no child process is running")

	// ErrInvalidConfig means the child exited with its reserved
	// invalid-configuration code. Fatal: the child is never restarted.
	ErrInvalidConfig = errors.New("child rejected its configuration")

	// ErrStartupTimeout means the readiness message did not arrive within the
	// startup window. The child is forcibly killed.
	ErrStartupTimeout = errors.New("timed out waiting for child to report readiness")
)

// Config describes the child to supervise. Exactly one of ConfigPath and
// ConfigInline must be set: a path is passed as -config=<path> (the child
// watches the file itself), an inline payload is JSON-serialized into
// ConfigEnvVar and the child gets -config=env.
type Config struct {
	ExecutablePath string

	ConfigPath   string
	ConfigInline any

	// ExtraArgs are appended after the supervisor's own flags.
	ExtraArgs []string

	// ExtraEnv entries are appended after the inherited environment, so they
	// take precedence over inherited variables of the same name.
	ExtraEnv map[string]string

	// Stdout and Stderr sinks. When nil the child inherits the supervisor's
	// own stream directly; when set, bytes are relayed and the sink is never
	// closed, so it survives respawns.
	Stdout io.Writer
	Stderr io.Writer

	// StartupTimeout bounds the wait for the readiness message. nil applies
	// DefaultStartupTimeout; an explicit value <= 0 disables the timeout.
	StartupTimeout *time.Duration

	// TerminationEvents names the host-process termination triggers to hook.
	// Empty applies DefaultTerminationEvents. Duplicates install one handler.
	TerminationEvents []string

	Logger *slog.Logger
}

type outcome struct {
	addr *ListeningAddress
	err  error
}

// child is the handle to exactly one live OS process. The Supervisor's child
// field is nil whenever no process is known-alive; it is cleared before
// termination is requested so the exit watcher can tell a deliberate stop
// from a crash.
type child struct {
	cmd    *exec.Cmd
	exited chan struct{}
}

// Supervisor manages one child process. Safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	relay  *sigrelay.Relay

	events chan Event

	// result is the single-assignment slot the readiness-success path and the
	// startup-timeout path race for; resolveOnce suppresses the loser.
	result      chan outcome
	resolveOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once

	state    atomic.Int32
	restarts atomic.Int32
	ready    atomic.Bool

	mu      sync.Mutex
	started bool
	child   *child

	addrMu sync.Mutex
	addr   *ListeningAddress
}

// New validates cfg and builds a Supervisor. No process is spawned until
// Start is called.
func New(cfg Config) (*Supervisor, error) {
	if cfg.ExecutablePath == "" {
		return nil, errors.New("executable path is empty")
	}
	if cfg.ConfigPath == "" && cfg.ConfigInline == nil {
		return nil, errors.New("either a config path or an inline config is required")
	}
	if cfg.ConfigPath != "" && cfg.ConfigInline != nil {
		return nil, errors.New("config path and inline config are mutually exclusive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "supervisor"))

	s := &Supervisor{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 16),
		result: make(chan outcome, 1),
		done:   make(chan struct{}),
	}

	events := cfg.TerminationEvents
	if len(events) == 0 {
		events = DefaultTerminationEvents
	}
	r, err := sigrelay.New(events, s.shutdownStop, logger)
	if err != nil {
		return nil, err
	}
	s.relay = r

	return s, nil
}

// Start spawns the child and blocks until it reports its listening address,
// the startup timeout fires, or a fatal startup error occurs. It may be
// called at most once per instance; a second call is a usage error.
//
// Start attaches the termination hooks before waiting, so the child is torn
// down even if the supervisor's process dies mid-startup.
func (s *Supervisor) Start(ctx context.Context) (*ListeningAddress, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.setState(StateStarting)
	s.relay.Attach()

	if err := s.spawn(); err != nil {
		return nil, s.failStart(err)
	}

	var timeoutC <-chan time.Time
	if d := s.startupTimeout(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case o := <-s.result:
		return s.finishStart(o)
	case <-timeoutC:
		// Race with the readiness path: whichever resolves first wins. If
		// readiness slipped in between the timer firing and here, resolve is
		// a no-op and the result slot holds the address.
		s.resolve(outcome{err: ErrStartupTimeout})
		return s.finishStart(<-s.result)
	case <-ctx.Done():
		s.resolve(outcome{err: ctx.Err()})
		return s.finishStart(<-s.result)
	}
}

func (s *Supervisor) finishStart(o outcome) (*ListeningAddress, error) {
	if o.err != nil {
		return nil, s.failStart(o.err)
	}
	s.setState(StateRunning)
	s.logger.Info("child ready", "url", o.addr.URL)
	return o.addr, nil
}

// failStart kills any tracked child and moves the supervisor to Failed.
func (s *Supervisor) failStart(err error) error {
	s.killCurrent()
	s.relay.Detach()
	s.setState(StateFailed)
	s.closeDone()
	return err
}

// Stop deliberately terminates the child and blocks until its exit is
// observed. It is a usage error to call Stop when no child is tracked.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	c := s.child
	if c == nil {
		s.mu.Unlock()
		return ErrNoChild
	}
	// Clear the handle before requesting termination: the exit watcher uses
	// a cleared handle to recognize this exit as deliberate. Both happen
	// under one lock acquisition, so no exit notification can interleave.
	s.child = nil
	s.mu.Unlock()

	s.relay.Detach()

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("terminate child", "error", err)
	}

	select {
	case <-c.exited:
	case <-time.After(stopGracePeriod):
		s.logger.Warn("child ignored SIGTERM, killing", "pid", c.cmd.Process.Pid)
		_ = c.cmd.Process.Kill()
		<-c.exited
	}

	s.setState(StateStopped)
	s.closeDone()
	return nil
}

// Events returns the notification stream: EventReady at most once, then any
// number of EventRestarting and EventError. The channel is buffered; if
// nothing drains it, events are logged instead so the signal is never lost.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Done is closed once the supervisor reaches a terminal state (Stopped or
// Failed).
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Restarts returns how many times the child has been respawned.
func (s *Supervisor) Restarts() int {
	return int(s.restarts.Load())
}

// PID returns the tracked child's process id, or -1 when no child is tracked.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		return -1
	}
	return s.child.cmd.Process.Pid
}

// Address returns the most recently reported listening address, or nil before
// the first readiness message.
func (s *Supervisor) Address() *ListeningAddress {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// HandleExit stops the child before a normal process exit, when the "exit"
// termination event is configured. Defer it in main.
func (s *Supervisor) HandleExit() {
	s.relay.HandleExit()
}

// HandlePanic stops the child (best-effort, fire-and-forget) when the process
// is dying from a panic, then re-raises the original value. It must be
// deferred directly: recover only works in the immediate deferred frame.
func (s *Supervisor) HandlePanic() {
	v := recover()
	if v == nil {
		return
	}
	if s.relay.PanicHookEnabled() {
		go s.shutdownStop()
	}
	panic(v)
}

// shutdownStop is the sigrelay stop callback. A missing child is fine here:
// the hooks may fire after the child already exited.
func (s *Supervisor) shutdownStop() {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNoChild) {
		s.logger.Error("stop child during shutdown", "error", err)
	}
}

// spawn builds the argument vector and environment, wires the output streams
// and the readiness pipe, and starts the child.
func (s *Supervisor) spawn() error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create startup pipe: %w", err)
	}

	args := []string{fmt.Sprintf("%s=%d", reporterFDFlag, reporterFD)}
	env := os.Environ()
	if s.cfg.ConfigPath != "" {
		args = append(args, "-config="+s.cfg.ConfigPath)
	} else {
		payload, err := json.Marshal(s.cfg.ConfigInline)
		if err != nil {
			_ = pr.Close()
			_ = pw.Close()
			return fmt.Errorf("serialize inline config: %w", err)
		}
		args = append(args, "-config=env")
		env = append(env, ConfigEnvVar+"="+string(payload))
	}
	args = append(args, s.cfg.ExtraArgs...)
	for k, v := range s.cfg.ExtraEnv {
		// Appended after os.Environ, so these win over inherited entries.
		env = append(env, k+"="+v)
	}

	cmd := exec.Command(s.cfg.ExecutablePath, args...)
	cmd.Env = env
	// Stdin stays nil: the child reads from /dev/null.

	stdout, releaseOut, err := relay.Output(s.cfg.Stdout, os.Stdout)
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("wire stdout: %w", err)
	}
	stderr, releaseErr, err := relay.Output(s.cfg.Stderr, os.Stderr)
	if err != nil {
		releaseOut()
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("wire stderr: %w", err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{pw}

	if err := cmd.Start(); err != nil {
		releaseOut()
		releaseErr()
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("spawn %s: %w", s.cfg.ExecutablePath, err)
	}

	// Drop the parent's copies of the child's ends so EOF tracks child exit.
	_ = pw.Close()
	releaseOut()
	releaseErr()

	c := &child{cmd: cmd, exited: make(chan struct{})}
	s.mu.Lock()
	s.child = c
	s.mu.Unlock()

	s.logger.Info("child started", "pid", cmd.Process.Pid, "executable", s.cfg.ExecutablePath)

	go s.collect(pr)
	go s.watch(c)
	return nil
}

// collect drains one readiness channel. Only the first resolution settles
// Start; readiness after a restart just refreshes the recorded address.
func (s *Supervisor) collect(pr *os.File) {
	defer pr.Close()

	addr, err := startup.Collect(pr)
	switch {
	case err != nil:
		s.fail(err)
	case addr != nil:
		la := newListeningAddress(addr.IP, addr.Port)
		s.setAddress(&la)
		s.ready.Store(true)
		if s.resolve(outcome{addr: &la}) {
			s.emit(Event{Kind: EventReady, Address: &la})
		} else {
			s.logger.Debug("child reported listening address", "url", la.URL)
		}
	}
	// Zero bytes before close is ordinary teardown noise: the exit watcher
	// decides what happens next.
}

// watch observes one child's exit and applies the restart policy.
func (s *Supervisor) watch(c *child) {
	waitErr := c.cmd.Wait()
	close(c.exited)

	s.mu.Lock()
	tracked := s.child == c
	if tracked {
		s.child = nil
	}
	s.mu.Unlock()

	if !tracked {
		// The handle was cleared before termination was requested, so this
		// exit came from a deliberate stop (or a timed-out startup).
		return
	}

	code, sig := exitStatus(waitErr)

	if code == invalidConfigExitCode {
		s.relay.Detach()
		s.setState(StateFailed)
		s.fail(fmt.Errorf("%w (exit code %d)", ErrInvalidConfig, code))
		s.closeDone()
		return
	}

	// Everything else is a transient crash: respawn unconditionally, no
	// backoff, no retry ceiling. Availability over flap protection.
	cause := restartCause(code, sig)
	s.setState(StateRestarting)
	s.restarts.Add(1)
	s.logger.Warn("restarting child", "cause", cause, "restarts", s.Restarts())
	s.emit(Event{Kind: EventRestarting, Cause: cause})

	if err := s.spawn(); err != nil {
		s.relay.Detach()
		s.setState(StateFailed)
		s.fail(fmt.Errorf("respawn child: %w", err))
		s.closeDone()
		return
	}

	if s.ready.Load() {
		s.setState(StateRunning)
	} else {
		s.setState(StateStarting)
	}
}

// fail rejects a still-pending Start, or surfaces err as an asynchronous
// error notification if startup already resolved.
func (s *Supervisor) fail(err error) {
	if !s.resolve(outcome{err: err}) {
		s.logger.Error("supervisor error", "error", err)
		s.emit(Event{Kind: EventError, Err: err})
	}
}

// resolve settles the single-assignment startup result. Reports whether this
// call won; the loser's effect is suppressed.
func (s *Supervisor) resolve(o outcome) bool {
	won := false
	s.resolveOnce.Do(func() {
		won = true
		s.result <- o
	})
	return won
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Nobody is draining the channel. Never lose the signal silently.
		s.logger.Warn("unobserved supervisor event",
			"kind", ev.Kind.String(), "cause", ev.Cause, "error", ev.Err)
	}
}

// killCurrent forcibly kills the tracked child, if any, and waits for its
// exit to be observed.
func (s *Supervisor) killCurrent() {
	s.mu.Lock()
	c := s.child
	s.child = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	_ = c.cmd.Process.Kill()
	<-c.exited
}

func (s *Supervisor) startupTimeout() time.Duration {
	if s.cfg.StartupTimeout == nil {
		return DefaultStartupTimeout
	}
	// An explicit non-positive value disables the timeout entirely.
	if *s.cfg.StartupTimeout <= 0 {
		return 0
	}
	return *s.cfg.StartupTimeout
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Supervisor) setAddress(addr *ListeningAddress) {
	s.addrMu.Lock()
	s.addr = addr
	s.addrMu.Unlock()
}

func (s *Supervisor) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// exitStatus decodes a Wait error into an exit code and, when the child was
// killed, the terminating signal. sig is -1 when the exit was not signaled.
func exitStatus(err error) (code int, sig syscall.Signal) {
	sig = syscall.Signal(-1)
	if err == nil {
		return 0, sig
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig = ws.Signal()
		}
		return code, sig
	}
	return -1, sig
}

func restartCause(code int, sig syscall.Signal) string {
	if sig >= 0 {
		return fmt.Sprintf("child exited due to signal %d (%s)", int(sig), sig.String())
	}
	return fmt.Sprintf("child exited with code %d", code)
}
