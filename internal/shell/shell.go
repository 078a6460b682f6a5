// Package shell runs the ecosystem tools sources depend on and captures
// their output for parsing.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command describes a tool invocation
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  map[string]string
}

// String returns the command line for diagnostics
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result captures the observable results of executing a command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands and probes for tool availability
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	Available(tool string) bool
}

// ExitError is returned by Output when a command exits non-zero
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Output runs cmd and returns its standard output, turning a non-zero
// exit status into an *ExitError
func Output(ctx context.Context, r Runner, cmd Command) (string, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, &ExitError{Command: cmd.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

// OSRunner executes commands using os/exec
type OSRunner struct{}

// NewOSRunner creates a runner backed by os/exec
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Available returns true if tool is found on PATH
func (*OSRunner) Available(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

// Run executes the command. A non-zero exit is reported in the result, not as an error.
func (*OSRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	if len(cmd.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range cmd.Env {
			env = append(env, k+"="+v)
		}
		c.Env = env
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: exitErr.ExitCode(),
			}, nil
		}
		return Result{}, err
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
