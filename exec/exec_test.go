package exec

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_CapturesOutput(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantStdout string
		wantCode   int
	}{
		{
			name:       "echo",
			cfg:        Config{Command: "echo", Args: []string{"hello", "world"}},
			wantStdout: "hello world\n",
		},
		{
			name:       "stdin is forwarded",
			cfg:        Config{Command: "cat", Stdin: []byte(`{"pass":7}`)},
			wantStdout: `{"pass":7}`,
		},
		{
			name:       "env is applied",
			cfg:        Config{Command: "sh", Args: []string{"-c", "printf %s \"$AUDIT_PASS\""}, Env: []string{"AUDIT_PASS=3"}},
			wantStdout: "3",
		},
		{
			name:     "non-zero exit is not an error",
			cfg:      Config{Command: "sh", Args: []string{"-c", "echo broken >&2; exit 42"}},
			wantCode: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := string(result.Stdout); got != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", got, tt.wantStdout)
			}
			if result.ExitCode != tt.wantCode {
				t.Errorf("exit code = %d, want %d", result.ExitCode, tt.wantCode)
			}
			if result.Failed() != (tt.wantCode != 0) {
				t.Errorf("Failed() = %v for exit code %d", result.Failed(), result.ExitCode)
			}
		})
	}
}

func TestRun_WorkDir(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	result, err := Run(context.Background(), Config{Command: "pwd", WorkDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(string(result.Stdout)); got != dir {
		t.Errorf("pwd = %q, want %q", result.Stdout, dir)
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	result, err := Run(context.Background(), Config{
		Command: "sleep",
		Args:    []string{"10"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
	if result == nil {
		t.Error("expected partial result on timeout")
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := Run(ctx, Config{Command: "sleep", Args: []string{"10"}})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestRun_NotFound(t *testing.T) {
	_, err := Run(context.Background(), Config{Command: "definitely-not-an-audit-tool-xyz"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	if _, err := Run(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestResult_StderrTail(t *testing.T) {
	r := &Result{Stderr: []byte("line one\nline two\n")}
	if got := r.StderrTail(9); got != "line two" {
		t.Errorf("StderrTail(9) = %q", got)
	}
	if got := r.StderrTail(0); got != "line one\nline two" {
		t.Errorf("StderrTail(0) = %q", got)
	}
}

func TestBinaryPath(t *testing.T) {
	if _, err := BinaryPath("sh"); err != nil {
		t.Errorf("BinaryPath(sh): %v", err)
	}
	if _, err := BinaryPath("definitely-not-an-audit-tool-xyz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
