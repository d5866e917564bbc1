package staticanalysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zero-day-ai/auditcore/exec"
)

const (
	// DefaultSlitherBinary is looked up on PATH when no binary is configured.
	DefaultSlitherBinary = "slither"

	// DefaultSlitherTimeout bounds a slither run.
	DefaultSlitherTimeout = 10 * time.Minute
)

// SlitherOptions configures RunSlither.
type SlitherOptions struct {
	// Binary is the slither executable. Defaults to "slither" on PATH.
	Binary string

	// Detectors restricts the run to these detector names.
	Detectors []string

	// ExtraArgs are passed through unchanged.
	ExtraArgs []string

	Timeout time.Duration
}

// RunSlither runs slither against path and decodes its JSON output.
// Slither exits non-zero whenever it reports findings, so the exit code is
// ignored as long as stdout holds a successful JSON report.
func RunSlither(ctx context.Context, path string, opts SlitherOptions) (*Report, error) {
	binary := opts.Binary
	if binary == "" {
		binary = DefaultSlitherBinary
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultSlitherTimeout
	}

	args := []string{path, "--json", "-"}
	if len(opts.Detectors) > 0 {
		args = append(args, "--detect", strings.Join(opts.Detectors, ","))
	}
	args = append(args, opts.ExtraArgs...)

	res, err := exec.Run(ctx, exec.Config{
		Command: binary,
		Args:    args,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("slither: %w", err)
	}

	report, err := ParseSlither(res.Stdout)
	if err != nil {
		if res.Failed() {
			return nil, fmt.Errorf("slither exited %d: %s: %w", res.ExitCode, res.StderrTail(512), err)
		}
		return nil, err
	}
	return report, nil
}
