// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/periscope-project/periscope/lib/process"
)

// State is the supervisor's lifecycle state.
type State int32

const (
	// StateIdle is the zero value: Start has not been called.
	StateIdle State = iota

	// StateConnecting means the tunnel process is running and the
	// readiness probe has not yet succeeded.
	StateConnecting

	// StateReady means the forward port answered. The process watch
	// continues in the background to detect later failure.
	StateReady

	// StateFailed means the process exited before readiness, or the
	// supervisor was cancelled before readiness. Terminal: only full
	// session disposal and recreation leaves this state.
	StateFailed

	// StateStopped means the process exited after having been ready.
	// Terminal, like StateFailed.
	StateStopped
)

// String returns the lowercase state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outcome is the single readiness-or-failure result of a supervisor.
//
// State is StateReady or StateFailed. When the supervisor was
// cancelled before readiness, State is StateFailed and Err wraps
// context.Canceled — cancellation is not a failure of the tunnel, and
// owners that initiated the cancellation ignore the outcome entirely.
type Outcome struct {
	State State
	Err   error
}

// LaunchError reports a tunnel process that exited before the forward
// port ever answered. The process is expected to block for the whole
// session, so any pre-ready exit is abnormal regardless of exit code.
type LaunchError struct {
	// Hostname is the device the tunnel was connecting to.
	Hostname string

	// Output is the tail of the process's combined diagnostic output.
	Output string

	// Err is the underlying exec.Cmd wait error, if any.
	Err error
}

func (e *LaunchError) Error() string {
	message := fmt.Sprintf("tunnel to %s exited before becoming ready", e.Hostname)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	if e.Output != "" {
		message += " (" + e.Output + ")"
	}
	return message
}

func (e *LaunchError) Unwrap() error { return e.Err }

// terminateGrace is how long a signalled tunnel process gets to exit
// before SIGKILL.
const terminateGrace = 5 * time.Second

// Supervisor runs one tunnel process and reports exactly one Outcome:
// ready, or failed. After a ready outcome it keeps watching the
// process and reports a post-ready exit exactly once on Stopped().
//
// Construct with NewSupervisor, call Start once, then read Outcome().
// Cancelling the Start context at any point abandons the tunnel: the
// process is terminated and no error is raised beyond the context's
// own.
type Supervisor struct {
	config      Config
	hostname    string
	forwardPort int
	poller      *Poller
	logger      *slog.Logger

	state   atomic.Int32
	outcome chan Outcome
	stopped chan error

	command    *exec.Cmd
	outputTail *process.TailBuffer
}

// NewSupervisor creates a supervisor for one tunnel to hostname,
// forwarding forwardPort. poller may be nil for default probing
// behavior; logger may be nil for slog.Default().
func NewSupervisor(config Config, hostname string, forwardPort int, poller *Poller, logger *slog.Logger) *Supervisor {
	if poller == nil {
		poller = &Poller{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		config:      config,
		hostname:    hostname,
		forwardPort: forwardPort,
		poller:      poller,
		logger:      logger.With("hostname", hostname, "forward_port", forwardPort),
		outcome:     make(chan Outcome, 1),
		stopped:     make(chan error, 1),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Outcome returns the channel that delivers the single ready-or-failed
// result. Buffered: the supervisor never blocks on a slow reader.
func (s *Supervisor) Outcome() <-chan Outcome {
	return s.outcome
}

// Stopped returns the channel that delivers the post-ready exit error,
// at most once. Nothing is ever delivered if the supervisor never
// reached StateReady, or if the exit was caused by cancellation.
func (s *Supervisor) Stopped() <-chan error {
	return s.stopped
}

// Start validates the key, spawns the tunnel process, and begins the
// readiness race. It returns an error only for immediate local
// failures (bad key, unspawnable binary); everything after spawn is
// reported through Outcome and Stopped. Call at most once.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.config.KeyPath != "" {
		if err := ValidateKey(s.config.KeyPath); err != nil {
			return err
		}
	}

	s.outputTail = &process.TailBuffer{}
	command := exec.Command(s.config.Binary, s.config.args(s.hostname, s.forwardPort)...)
	command.Stdout = s.outputTail
	command.Stderr = s.outputTail
	// Own process group so a signal to the tunnel does not hit the
	// periscope process itself when they share a terminal.
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := command.Start(); err != nil {
		return fmt.Errorf("starting tunnel process %q: %w", s.config.Binary, err)
	}
	s.command = command
	s.state.Store(int32(StateConnecting))
	s.logger.Info("tunnel process started", "pid", command.Process.Pid)

	exited := make(chan error, 1)
	go func() { exited <- command.Wait() }()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	polled := make(chan error, 1)
	go func() { polled <- s.poller.Poll(pollCtx, s.forwardPort) }()

	go s.supervise(ctx, cancelPoll, exited, polled)
	return nil
}

// supervise runs the readiness race and then the post-ready watch.
func (s *Supervisor) supervise(ctx context.Context, cancelPoll context.CancelFunc, exited <-chan error, polled <-chan error) {
	defer cancelPoll()

	select {
	case waitErr := <-exited:
		// Process death before readiness is always abnormal.
		s.failLaunch(waitErr)
		return

	case pollErr := <-polled:
		if pollErr != nil {
			// The poll only errors on cancellation. Abandon the
			// process; the outcome carries the context error so
			// un-cancelled readers can still distinguish it.
			s.terminate(exited)
			s.state.Store(int32(StateFailed))
			s.outcome <- Outcome{State: StateFailed, Err: pollErr}
			s.logger.Info("tunnel abandoned before ready")
			return
		}

		// The port answered. If the process died in the same instant,
		// the death is authoritative — a dead tunnel cannot serve the
		// session no matter what the probe saw.
		select {
		case waitErr := <-exited:
			s.failLaunch(waitErr)
			return
		default:
		}

		s.state.Store(int32(StateReady))
		s.outcome <- Outcome{State: StateReady}
		s.logger.Info("tunnel ready")

	case <-ctx.Done():
		s.terminate(exited)
		s.state.Store(int32(StateFailed))
		s.outcome <- Outcome{State: StateFailed, Err: ctx.Err()}
		s.logger.Info("tunnel abandoned before ready")
		return
	}

	// Post-ready watch: a later exit is a tunnel drop unless the owner
	// cancelled, in which case teardown is deliberate and silent.
	select {
	case waitErr := <-exited:
		s.state.Store(int32(StateStopped))
		if ctx.Err() == nil {
			dropErr := fmt.Errorf("tunnel to %s stopped: %w", s.hostname, exitReason(waitErr, s.outputTail.String()))
			s.stopped <- dropErr
			s.logger.Error("tunnel stopped", "error", waitErr)
		}
	case <-ctx.Done():
		s.terminate(exited)
		s.state.Store(int32(StateStopped))
		s.logger.Info("tunnel closed")
	}
}

// failLaunch records a pre-ready process exit.
func (s *Supervisor) failLaunch(waitErr error) {
	s.state.Store(int32(StateFailed))
	launchErr := &LaunchError{
		Hostname: s.hostname,
		Output:   s.outputTail.String(),
		Err:      waitErr,
	}
	s.outcome <- Outcome{State: StateFailed, Err: launchErr}
	s.logger.Error("tunnel failed before ready", "error", launchErr)
}

// terminate signals the process and reaps it: SIGTERM, a grace period,
// then SIGKILL. exited must be the channel carrying the Wait result.
func (s *Supervisor) terminate(exited <-chan error) {
	if s.command == nil || s.command.Process == nil {
		return
	}
	s.command.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(terminateGrace):
		s.command.Process.Kill()
		<-exited
	}
}

// exitReason folds the process's diagnostic tail into the wait error.
func exitReason(waitErr error, output string) error {
	if waitErr == nil {
		if output != "" {
			return fmt.Errorf("clean exit (%s)", output)
		}
		return fmt.Errorf("clean exit")
	}
	if output != "" {
		return fmt.Errorf("%w (%s)", waitErr, output)
	}
	return waitErr
}
