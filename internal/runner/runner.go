// Package runner invokes the automation tool as a subprocess and captures its result.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxOutputBytes = 512 * 1024
	waitDelay             = 5 * time.Second
)

// Outcome tells how an invocation ended. ExitCode is only meaningful for OutcomeExited.
type Outcome int

const (
	OutcomeExited Outcome = iota + 1
	OutcomeTimedOut
	OutcomeFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExited:
		return "exited"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFault:
		return "fault"
	default:
		return "unknown"
	}
}

type Invocation struct {
	Argv    []string
	Dir     string
	Timeout time.Duration
	Env     map[string]string
	// Secrets are masked when the argv is logged.
	Secrets []string
}

type Result struct {
	Argv      []string
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	Elapsed   time.Duration
	Outcome   Outcome
	Err       error
}

type Options struct {
	MaxOutputBytes int
	Logger         *slog.Logger
}

type Runner struct {
	maxOutputBytes int
	logger         *slog.Logger
}

func New(opts Options) *Runner {
	maxOutput := opts.MaxOutputBytes
	if maxOutput < 1 {
		maxOutput = defaultMaxOutputBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		maxOutputBytes: maxOutput,
		logger:         logger,
	}
}

// Run executes one invocation. It never returns an error value: non-zero exits, timeouts
// and start failures are all reported through Result.Outcome.
func (r *Runner) Run(ctx context.Context, inv Invocation) Result {
	result := Result{Argv: append([]string{}, inv.Argv...)}
	if len(inv.Argv) == 0 || strings.TrimSpace(inv.Argv[0]) == "" {
		result.Outcome = OutcomeFault
		result.Err = fmt.Errorf("runner: empty argv")
		return result
	}
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), mapToEnv(inv.Env)...)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	stdout := &limitedBuffer{MaxBytes: r.maxOutputBytes}
	stderr := &limitedBuffer{MaxBytes: r.maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Info("process starting",
		"argv", strings.Join(Redact(inv.Argv, inv.Secrets...), " "),
		"dir", inv.Dir,
		"timeout", timeout.String(),
	)
	started := time.Now()
	err := cmd.Run()
	result.Elapsed = time.Since(started)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.Truncated || stderr.Truncated

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.Outcome = OutcomeTimedOut
		result.Err = fmt.Errorf("%s exceeded %s", inv.Argv[0], timeout)
	case ctx.Err() != nil:
		result.Outcome = OutcomeFault
		result.Err = fmt.Errorf("%s cancelled: %w", inv.Argv[0], ctx.Err())
	case err == nil:
		result.Outcome = OutcomeExited
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.Outcome = OutcomeExited
		result.ExitCode = exitErr.ExitCode()
	default:
		result.Outcome = OutcomeFault
		result.Err = fmt.Errorf("run %s: %w", inv.Argv[0], err)
	}

	r.logger.Info("process finished",
		"program", inv.Argv[0],
		"outcome", result.Outcome.String(),
		"exit_code", result.ExitCode,
		"elapsed", result.Elapsed.Round(time.Millisecond).String(),
		"truncated", result.Truncated,
	)
	return result
}

func mapToEnv(values map[string]string) []string {
	result := make([]string, 0, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		result = append(result, key+"="+value)
	}
	return result
}

// TruncationNotice separates the head and tail of output that exceeded the capture limit.
const TruncationNotice = "\n... [output truncated] ...\n"

// limitedBuffer keeps the first quarter of MaxBytes and the most recent remainder, so
// summaries printed at the end of a long run survive.
type limitedBuffer struct {
	MaxBytes  int
	Truncated bool
	head      bytes.Buffer
	tail      []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.MaxBytes < 1 {
		return len(p), nil
	}
	written := len(p)
	headLimit := b.MaxBytes / 4
	if room := headLimit - b.head.Len(); room > 0 {
		n := min(room, len(p))
		_, _ = b.head.Write(p[:n])
		p = p[n:]
	}
	if len(p) == 0 {
		return written, nil
	}
	tailLimit := b.MaxBytes - headLimit
	b.tail = append(b.tail, p...)
	if len(b.tail) > tailLimit {
		b.Truncated = true
		// Compact only once the slice doubles to keep appends amortized.
		if len(b.tail) > 2*tailLimit {
			b.tail = append(b.tail[:0], b.tail[len(b.tail)-tailLimit:]...)
		}
	}
	return written, nil
}

func (b *limitedBuffer) String() string {
	tailLimit := b.MaxBytes - b.MaxBytes/4
	tail := b.tail
	if len(tail) > tailLimit {
		tail = tail[len(tail)-tailLimit:]
	}
	if !b.Truncated {
		return strings.ToValidUTF8(b.head.String()+string(tail), "")
	}
	// Start the tail on a line boundary when one is available.
	if i := bytes.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return strings.ToValidUTF8(b.head.String()+TruncationNotice+string(tail), "")
}
