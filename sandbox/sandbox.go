// Package sandbox defines the execution boundary between tools and the
// environment that actually runs shell commands on behalf of an agent. The
// production boundary is a container runtime owned by an external
// collaborator; the contract is a single Exec call. A local implementation is
// provided for development and tests.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result is the outcome of one command execution.
type Result struct {
	Stdout   string `json:"stdout"`
	ExitCode int    `json:"exit_code"`
}

// Sandbox executes shell commands inside an isolated workspace. File reads
// and writes are expressed as commands over this same boundary.
type Sandbox interface {
	Exec(ctx context.Context, command, workdir string) (Result, error)
}

// Local runs commands directly on the host via bash. Intended for development
// and tests only; production workers are handed a container-backed Sandbox.
type Local struct {
	// DefaultWorkdir applies when a call passes an empty workdir.
	DefaultWorkdir string
}

// NewLocal creates a host-process sandbox rooted at workdir.
func NewLocal(workdir string) *Local {
	return &Local{DefaultWorkdir: workdir}
}

// Exec implements Sandbox. A non-zero exit status is reported through
// Result.ExitCode, not as an error; errors are reserved for failures to run
// the command at all.
func (l *Local) Exec(ctx context.Context, command, workdir string) (Result, error) {
	if workdir == "" {
		workdir = l.DefaultWorkdir
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = workdir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Stdout: out.String(), ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{}, err
	}
	return Result{Stdout: out.String(), ExitCode: 0}, nil
}
