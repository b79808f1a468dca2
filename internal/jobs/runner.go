package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"altlens/internal/progress"
	"altlens/internal/session"
)

const (
	// drainJoinWait bounds how long we wait for the output drain goroutines
	// after the analyzer exits. A grandchild process holding the pipe open
	// must not block the job from reaching a terminal state.
	drainJoinWait = 5 * time.Second

	// killReapWait bounds how long we wait for Wait to return after killing
	// a timed-out analyzer.
	killReapWait = 5 * time.Second

	// stderrTailBytes is how much captured stderr is included in error
	// diagnostics.
	stderrTailBytes = 512

	maxBatchImages = 500
)

// Spec describes one analysis job submission.
type Spec struct {
	URL       string
	Mode      string
	Language  string
	Provider  string
	Model     string
	MaxImages int
	SessionID string
}

// RunnerConfig configures subprocess supervision.
type RunnerConfig struct {
	// Command is the analyzer argv prefix; job arguments are appended.
	Command []string

	// PageTimeout bounds mode=page jobs, BatchTimeout bounds mode=batch jobs.
	PageTimeout  time.Duration
	BatchTimeout time.Duration

	// PollInterval is how often the progress file is read.
	PollInterval time.Duration

	// MaxConcurrent caps in-flight jobs; further submissions are rejected.
	MaxConcurrent int
}

// Runner supervises one analyzer subprocess per submitted job.
type Runner struct {
	registry *Registry
	sessions *session.Registry
	cfg      RunnerConfig
	logger   *slog.Logger

	sem    chan struct{}
	tracer trace.Tracer

	jobsSubmitted metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobDuration   metric.Float64Histogram
}

// NewRunner creates a Runner backed by the given registries.
func NewRunner(
	registry *Registry,
	sessions *session.Registry,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	meter := otel.Meter("altlens/jobs")
	submitted, _ := meter.Int64Counter("altlens_jobs_submitted_total")
	completed, _ := meter.Int64Counter("altlens_jobs_completed_total")
	failed, _ := meter.Int64Counter("altlens_jobs_failed_total")
	duration, _ := meter.Float64Histogram("altlens_job_duration_seconds")

	return &Runner{
		registry:      registry,
		sessions:      sessions,
		cfg:           cfg,
		logger:        logger,
		sem:           make(chan struct{}, cfg.MaxConcurrent),
		tracer:        otel.Tracer("altlens/jobs"),
		jobsSubmitted: submitted,
		jobsCompleted: completed,
		jobsFailed:    failed,
		jobDuration:   duration,
	}
}

// Submit validates the spec, creates the job record and starts its
// supervising worker. It returns ErrTooManyJobs when the concurrent job limit
// is reached and a *ValidationError for bad input; in both cases no
// subprocess is started.
func (r *Runner) Submit(ctx context.Context, spec Spec) (string, error) {
	normalized, err := validateSpec(spec)
	if err != nil {
		return "", err
	}

	select {
	case r.sem <- struct{}{}:
	default:
		return "", ErrTooManyJobs
	}

	id := r.registry.Create()
	r.jobsSubmitted.Add(ctx, 1)

	go r.supervise(id, normalized)

	return id, nil
}

// Registry exposes the underlying job registry for polling.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// validateSpec rejects bad input before any resources are committed and
// fills in defaults.
func validateSpec(spec Spec) (Spec, error) {
	if spec.URL == "" {
		return Spec{}, &ValidationError{Field: "url", Reason: "required"}
	}

	u, err := url.Parse(spec.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Spec{}, &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}

	switch spec.Mode {
	case "":
		spec.Mode = "page"
	case "page", "batch":
	default:
		return Spec{}, &ValidationError{Field: "mode", Reason: `must be "page" or "batch"`}
	}

	if spec.MaxImages < 0 || spec.MaxImages > maxBatchImages {
		return Spec{}, &ValidationError{
			Field:  "max_images",
			Reason: fmt.Sprintf("must be between 0 and %d", maxBatchImages),
		}
	}

	if spec.Language == "" {
		spec.Language = "en"
	}

	return spec, nil
}

// supervise runs in its own goroutine and owns the job until it reaches a
// terminal state. It must never return with the job still non-terminal.
func (r *Runner) supervise(id string, spec Spec) {
	defer func() { <-r.sem }()

	log := r.logger.With("job_id", id, "session_id", spec.SessionID)

	defer func() {
		if p := recover(); p != nil {
			log.Error("job worker panicked", "panic", p)
			// Ignore the transition error if the job already terminated.
			_ = r.registry.Fail(id, fmt.Sprintf("internal error: %v", p))
		}
	}()

	ctx, span := r.tracer.Start(context.Background(), "run_analysis",
		trace.WithAttributes(
			attribute.String("job.id", id),
			attribute.String("job.mode", spec.Mode),
			attribute.String("job.url", spec.URL),
		),
	)
	defer span.End()

	fail := func(msg string) {
		span.RecordError(fmt.Errorf("%s", msg))
		r.jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", spec.Mode)))
		if err := r.registry.Fail(id, msg); err != nil {
			log.Error("failed to record job failure", "error", err)
		}
	}

	dirs, err := r.sessions.Directories(spec.SessionID)
	if err != nil {
		fail(fmt.Sprintf("failed to resolve session directories: %v", err))
		return
	}
	r.sessions.Touch(spec.SessionID)

	// The progress file path is owned exclusively by this job and never
	// reused.
	progressPath := filepath.Join(dirs.Progress, id+".json")

	timeout := r.cfg.PageTimeout
	if spec.Mode == "batch" {
		timeout = r.cfg.BatchTimeout
	}

	cmd := exec.Command(r.cfg.Command[0], r.buildArgs(spec, dirs, progressPath)...)
	cmd.Dir = dirs.Root

	// Own process group, so a timeout kill reaches helper processes the
	// analyzer forked. Orphans would otherwise hold the pipe write ends open
	// past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Explicit pipes rather than StdoutPipe: Wait must not race the drain
	// goroutines, and the bounded join below decides when to stop waiting
	// for them.
	outR, outW, err := os.Pipe()
	if err != nil {
		fail(fmt.Sprintf("failed to create stdout pipe: %v", err))
		return
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		fail(fmt.Sprintf("failed to create stderr pipe: %v", err))
		return
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		fail(fmt.Sprintf("failed to launch analyzer: %v", err))
		return
	}

	// The child holds its own copies of the write ends now; ours must close
	// so the drains see EOF when the analyzer exits.
	outW.Close()
	errW.Close()

	if err := r.registry.MarkRunning(id); err != nil {
		log.Error("failed to mark job running", "error", err)
	}
	log.Info("analyzer started", "pid", cmd.Process.Pid, "timeout", timeout)

	// Drain both streams continuously and concurrently with the analyzer.
	// Unconsumed output would fill the kernel pipe buffers and deadlock the
	// analyzer against this worker.
	stdoutCh := drain(outR)
	stderrCh := drain(errR)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.After(timeout)

	timedOut := false
	reaped := true

	for running := true; running; {
		select {
		case <-ticker.C:
			// Read failures (missing file, rename race, partial JSON) are
			// "no update", never an error.
			if snap, err := progress.Read(progressPath); err == nil {
				_ = r.registry.MergeProgress(id, snap)
			}

		case <-waitCh:
			running = false

		case <-deadline:
			timedOut = true
			log.Warn("analyzer exceeded timeout, killing", "timeout", timeout)
			killProcessGroup(cmd)
			select {
			case <-waitCh:
			case <-time.After(killReapWait):
				reaped = false
			}
			running = false
		}
	}

	// One last opportunistic merge so a final snapshot written just before
	// exit is not lost.
	if snap, err := progress.Read(progressPath); err == nil {
		_ = r.registry.MergeProgress(id, snap)
	}

	stdoutTail := awaitDrain(stdoutCh)
	stderrTail := awaitDrain(stderrCh)
	_ = os.Remove(progressPath)

	elapsed := time.Since(start)
	r.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("mode", spec.Mode)))

	if timedOut {
		fail(fmt.Sprintf("analyzer timed out after %s", timeout))
		return
	}

	exitCode := -1
	if reaped && cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	span.SetAttributes(attribute.Int("exit_code", exitCode))

	artifacts := collectArtifacts(dirs.Output, start)

	// Any expected artifact counts as success, even on a non-zero exit: a
	// partially-failed run may still have produced a usable report. The exit
	// code is surfaced in the result for callers that care.
	if len(artifacts) > 0 {
		if exitCode != 0 {
			log.Warn("analyzer exited non-zero but produced artifacts", "exit_code", exitCode)
		}
		res := &Result{
			Artifacts: artifacts,
			OutputDir: dirs.Output,
			ExitCode:  exitCode,
			Duration:  elapsed,
		}
		if err := r.registry.Complete(id, res); err != nil {
			log.Error("failed to record job completion", "error", err)
			return
		}
		r.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", spec.Mode)))
		log.Info("analysis complete", "artifacts", len(artifacts), "duration", elapsed, "stdout_bytes", len(stdoutTail))
		return
	}

	msg := fmt.Sprintf("analyzer exited with code %d and produced no artifacts", exitCode)
	if tail := tailOf(stderrTail); tail != "" {
		msg = fmt.Sprintf("%s: %s", msg, tail)
	}
	fail(msg)
}

// buildArgs assembles the analyzer's command line per the collaborator
// contract.
func (r *Runner) buildArgs(spec Spec, dirs session.Dirs, progressPath string) []string {
	args := append([]string{}, r.cfg.Command[1:]...)
	args = append(args,
		spec.URL,
		"--mode", spec.Mode,
		"--lang", spec.Language,
	)
	if spec.Provider != "" {
		args = append(args, "--provider", spec.Provider)
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.Mode == "batch" && spec.MaxImages > 0 {
		args = append(args, "--max-images", strconv.Itoa(spec.MaxImages))
	}
	args = append(args,
		"--output-dir", dirs.Output,
		"--progress-file", progressPath,
	)
	return args
}

// killProcessGroup kills the analyzer's whole process group, falling back to
// the direct child if the group signal fails.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

// drain continuously copies rc into a buffer and delivers the contents once
// the stream closes. The channel is buffered so an abandoned drain never
// leaks a blocked goroutine.
func drain(rc io.ReadCloser) <-chan string {
	ch := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rc)
		rc.Close()
		ch <- buf.String()
	}()
	return ch
}

// awaitDrain joins a drain goroutine with a bounded wait, proceeding with
// empty output if it does not finish in time.
func awaitDrain(ch <-chan string) string {
	select {
	case out := <-ch:
		return out
	case <-time.After(drainJoinWait):
		return ""
	}
}

// collectArtifacts lists files the analyzer wrote to the output directory
// during this run. A one second margin absorbs coarse filesystem mtimes.
// The output directory is shared by the whole session, so concurrent jobs in
// one session see each other's fresh files; artifacts are session-scoped, not
// job-scoped.
func collectArtifacts(outputDir string, start time.Time) []string {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil
	}

	cutoff := start.Add(-time.Second)
	var artifacts []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			artifacts = append(artifacts, entry.Name())
		}
	}

	return artifacts
}

func tailOf(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}
