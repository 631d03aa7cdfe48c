package openlava

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner executes a scheduler command and returns its output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs scheduler commands as subprocesses
type ExecRunner struct {
	// BinDir is prepended to command names; empty means search PATH
	BinDir string
	// Timeout bounds each command; zero means no limit beyond ctx
	Timeout time.Duration
}

// Run the program with the arguments, collecting stdout and stderr. A nonzero
// exit is reported as an error but the captured output is still returned,
// because the scheduler tools exit nonzero for "no job found" style answers.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	program := name
	if r.BinDir != "" {
		program = filepath.Join(r.BinDir, name)
	}

	cmd := exec.CommandContext(ctx, program, args...)
	var stdout strings.Builder
	var stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return stdout.String(), stderr.String(), errors.Join(fmt.Errorf("while running %s %s", name, strings.Join(args, " ")), err)
	}
	return stdout.String(), stderr.String(), nil
}
