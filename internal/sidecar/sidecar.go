/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package sidecar runs helper binaries as bounded, observable child
// processes. Every invocation carries an explicit timeout so a wedged child
// cannot hang the orchestration layer, and captures stdout, stderr, and the
// exit code for structured error reporting.
package sidecar

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// State tracks one process invocation.
type State int

const (
	// StateNotStarted means Run has not been called.
	StateNotStarted State = iota
	// StateRunning means the child is executing.
	StateRunning
	// StateExited means the child finished with exit code zero.
	StateExited
	// StateFailed means the child could not be spawned, exited non-zero,
	// or was killed on timeout.
	StateFailed
)

// String returns a short name for logs.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	default:
		return "not-started"
	}
}

// Spec describes one child process invocation.
type Spec struct {
	Name    string
	Args    []string
	Dir     string        // working directory; co-located shared libraries resolve from here
	Env     []string      // appended to the parent environment when non-nil
	Timeout time.Duration // zero means no bound beyond the caller's context
}

// Result captures the observable outcome of one invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Process is a single-use managed child process.
type Process struct {
	spec  Spec
	state State
}

// NewProcess prepares a process for one Run call.
func NewProcess(spec Spec) *Process {
	return &Process{spec: spec, state: StateNotStarted}
}

// State reports the current lifecycle state.
func (p *Process) State() State {
	return p.state
}

// Run executes the child and waits for completion. The spec timeout, when
// set, bounds execution; on expiry the child is killed and Result.TimedOut
// is reported.
func (p *Process) Run(ctx context.Context) (Result, error) {
	if p.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.spec.Name, p.spec.Args...)
	if p.spec.Dir != "" {
		cmd.Dir = p.spec.Dir
	}
	if p.spec.Env != nil {
		cmd.Env = append(cmd.Environ(), p.spec.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.state = StateRunning
	start := time.Now()
	err := cmd.Run()

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
		Duration: time.Since(start),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		p.state = StateFailed
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	p.state = StateExited
	return result, nil
}

// ExecRunner executes specs via os/exec.
type ExecRunner struct{}

// Run satisfies Runner with a one-shot managed process.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	return NewProcess(spec).Run(ctx)
}
