package analysis

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"time"
)

var (
	// ErrTimeout means the wall-clock limit killed the agent process.
	ErrTimeout = errors.New("analysis timed out")
	// ErrNoOutput means the process finished but produced nothing
	// salvageable as an HTML fragment.
	ErrNoOutput = errors.New("no analysis output produced")
)

// StderrClass labels one line of agent stderr.
type StderrClass int

const (
	// StderrInfo is ordinary agent logging.
	StderrInfo StderrClass = iota
	// StderrThrottling is a downstream rate-limit signature; recoverable,
	// the process may still succeed.
	StderrThrottling
	// StderrValidation is a downstream query-validation complaint;
	// recoverable.
	StderrValidation
	// StderrError is anything else worth surfacing as an error event.
	// It does not by itself terminate the process.
	StderrError
)

var (
	throttlingRe = regexp.MustCompile(`(?i)(throttl|rate exceeded|too many requests|service\s*unavailable|slow down)`)
	validationRe = regexp.MustCompile(`(?i)(validationexception|query validation|invalid parameter)`)
	plainLogRe   = regexp.MustCompile(`(?i)^\s*(\d{4}-\d{2}-\d{2}.*)?(INFO|DEBUG)\b`)
)

// ClassifyStderr buckets one stderr line.
func ClassifyStderr(line string) StderrClass {
	switch {
	case throttlingRe.MatchString(line):
		return StderrThrottling
	case validationRe.MatchString(line):
		return StderrValidation
	case plainLogRe.MatchString(line):
		return StderrInfo
	}
	return StderrError
}

// Runner launches one agent process per call. The prompt travels as a
// discrete argv element; there is no shell in the path, which is the
// actual injection boundary (the prompt denylist is only a courtesy
// filter).
type Runner struct {
	command string
	args    []string
	timeout time.Duration
	workDir string
	logger  *slog.Logger
}

type RunnerConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
	WorkDir string
}

func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Runner{
		command: cfg.Command,
		args:    cfg.Args,
		timeout: cfg.Timeout,
		workDir: cfg.WorkDir,
		logger:  logger,
	}
}

// Run executes the agent once and returns the extracted HTML fragment.
// onStderr, if set, receives each stderr line as it arrives, already
// classified. A non-zero exit still salvages any HTML present in the
// captured stdout before reporting failure.
func (r *Runner) Run(ctx context.Context, prompt string, onStderr func(StderrClass, string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string{}, r.args...), prompt)
	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = r.workDir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting analysis process: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			class := ClassifyStderr(line)
			r.logger.Debug("agent stderr", "class", int(class), "line", line)
			if onStderr != nil {
				onStderr(class, line)
			}
		}
	}()

	waitErr := cmd.Wait()
	<-stderrDone

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}

	html, found := ExtractHTML(stdout.String())
	if waitErr != nil {
		if found {
			// Process died after writing its report; salvage it.
			r.logger.Warn("agent exited abnormally but produced output", "error", waitErr)
			return html, nil
		}
		return "", fmt.Errorf("analysis process failed: %w", waitErr)
	}
	if !found {
		return "", ErrNoOutput
	}
	return html, nil
}
