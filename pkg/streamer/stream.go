// Package streamer implements the remote command streamer (component C6):
// a PTY-allocated SSH session that multiplexes live stdout/stderr to a
// caller-supplied sink while capturing a bounded in-memory copy, parses a
// structured-output trailer from the tail of stdout, and enforces
// soft-timeout -> cancellation -> grace-period -> forcible-close semantics
// on slow or hung commands.
package streamer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
	"github.com/openfroyo/openfroyo/pkg/telemetry"
	froyossh "github.com/openfroyo/openfroyo/pkg/transports/ssh"
)

// defaultCaptureLimit bounds the in-memory capture buffer per stream
// (stdout, stderr) when the caller does not set one.
const defaultCaptureLimit = 1 << 20 // 1 MiB

// Options configures one streamed command invocation.
type Options struct {
	// Command is the remote command line to run.
	Command string

	// Stdout and Stderr, if non-nil, receive the live byte stream as it
	// arrives, in addition to the bounded capture buffer.
	Stdout io.Writer
	Stderr io.Writer

	// SoftTimeout is how long to wait before sending a cancellation signal
	// to the remote process. Zero disables the soft timeout.
	SoftTimeout time.Duration

	// GracePeriod is how long to wait after the cancellation signal before
	// forcibly closing the session.
	GracePeriod time.Duration

	// CaptureLimit bounds the in-memory capture buffer per stream. Zero
	// uses defaultCaptureLimit.
	CaptureLimit int

	// AllowedContextKeys, if non-nil, restricts the trailer's context map
	// to these keys; everything else is discarded before the caller sees
	// it.
	AllowedContextKeys []string
}

// Result is the outcome of one streamed command.
type Result struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	Truncated    bool
	Trailer      *Trailer
	TrailerFound bool
	Duration     time.Duration
	Cancelled    bool
}

// Run executes opts.Command over an already-connected client, streaming
// output live and returning the captured result. The returned error is
// classified per the closed error_kind taxonomy (§7): connection failures
// are remote-failure, a context cancellation that fires before the soft
// timeout is cancelled, and a forcible close after the grace period is
// timeout.
//
// When ctx carries a *telemetry.Telemetry (via telemetry.Telemetry.WithContext),
// the session is wrapped in a stream span and recorded in the stream_calls/
// stream_errors metrics, labeled by the remote host and command.
func Run(ctx context.Context, client *froyossh.SSHClient, opts Options) (result *Result, err error) {
	host := client.GetConnectionInfo().Host

	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		var span trace.Span
		ctx, span = tel.Tracer.StartStreamSpan(ctx, host, opts.Command)
		start := time.Now()
		defer func() {
			tel.Metrics.RecordStreamCall(host, opts.Command, time.Since(start))
			if err != nil {
				tel.Metrics.RecordStreamError(host, opts.Command)
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			_ = tel.Events.PublishStreamInvoked(host, opts.Command, err == nil)
			span.End()
		}()
	}

	return run(ctx, client, opts)
}

// run is the uninstrumented body of Run.
func run(ctx context.Context, client *froyossh.SSHClient, opts Options) (*Result, error) {
	limit := opts.CaptureLimit
	if limit <= 0 {
		limit = defaultCaptureLimit
	}

	session, err := client.NewPTYSession(ctx, 80, 40)
	if err != nil {
		return nil, orcherr.New(orcherr.KindRemoteFailure, "allocating PTY session", err)
	}
	defer session.Close()

	stdoutCapture := newRingBuffer(limit)
	stderrCapture := newRingBuffer(limit)

	stdoutWriters := []io.Writer{stdoutCapture}
	if opts.Stdout != nil {
		stdoutWriters = append(stdoutWriters, opts.Stdout)
	}
	stderrWriters := []io.Writer{stderrCapture}
	if opts.Stderr != nil {
		stderrWriters = append(stderrWriters, opts.Stderr)
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return nil, orcherr.New(orcherr.KindRemoteFailure, "opening stdout pipe", err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return nil, orcherr.New(orcherr.KindRemoteFailure, "opening stderr pipe", err)
	}

	copyDone := make(chan struct{}, 2)
	go func() {
		copyStream(stdoutPipe, stdoutWriters)
		copyDone <- struct{}{}
	}()
	go func() {
		copyStream(stderrPipe, stderrWriters)
		copyDone <- struct{}{}
	}()

	start := time.Now()
	if err := session.Start(opts.Command); err != nil {
		return nil, orcherr.New(orcherr.KindRemoteFailure, "starting remote command", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- session.Wait() }()

	result, err := wait(ctx, session, runErr, opts)
	<-copyDone
	<-copyDone

	result.Stdout = stdoutCapture.String()
	result.Stderr = stderrCapture.String()
	result.Truncated = stdoutCapture.Truncated() || stderrCapture.Truncated()
	result.Duration = time.Since(start)

	if err != nil {
		return result, err
	}

	if trailer, ok := parseTrailer(result.Stdout); ok {
		trailer.Context = projectContext(trailer.Context, opts.AllowedContextKeys)
		result.Trailer = trailer
		result.TrailerFound = true
	} else {
		result.Trailer = synthesize(result, opts)
	}

	return result, nil
}

// wait multiplexes three signals: the command finishing on its own, the
// caller's context being cancelled, and the soft timeout elapsing. A soft
// timeout sends SIGINT, waits up to GracePeriod, then closes the session
// out from under the remote process.
func wait(ctx context.Context, session *ssh.Session, runErr chan error, opts Options) (*Result, error) {
	var softTimer <-chan time.Time
	if opts.SoftTimeout > 0 {
		t := time.NewTimer(opts.SoftTimeout)
		defer t.Stop()
		softTimer = t.C
	}

	select {
	case err := <-runErr:
		return &Result{ExitCode: exitCodeOf(err)}, nil

	case <-ctx.Done():
		_ = session.Signal(ssh.SIGINT)
		select {
		case <-runErr:
		case <-time.After(gracePeriod(opts)):
			_ = session.Close()
		}
		return &Result{Cancelled: true}, orcherr.New(orcherr.KindCancelled, "command cancelled by caller", ctx.Err())

	case <-softTimer:
		_ = session.Signal(ssh.SIGINT)
		select {
		case err := <-runErr:
			return &Result{ExitCode: exitCodeOf(err)}, nil
		case <-time.After(gracePeriod(opts)):
			_ = session.Close()
			return &Result{Cancelled: true}, orcherr.New(orcherr.KindTimeout, "command exceeded soft timeout and grace period", nil)
		}
	}
}

func gracePeriod(opts Options) time.Duration {
	if opts.GracePeriod > 0 {
		return opts.GracePeriod
	}
	return 5 * time.Second
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus()
	}
	return -1
}

func copyStream(r io.Reader, writers []io.Writer) {
	w := io.MultiWriter(writers...)
	buf := bufio.NewReaderSize(r, 32*1024)
	_, _ = io.Copy(w, buf)
}

// synthesize builds a fallback Trailer from exit-code alone when the
// remote command did not emit a parseable structured-output trailer,
// per §4.6.
func synthesize(r *Result, opts Options) *Trailer {
	success := r.ExitCode == 0 && !r.Cancelled
	t := &Trailer{
		Scenario:        opts.Command,
		Success:         success,
		DurationSeconds: r.Duration.Seconds(),
	}
	if !success {
		t.Error = fmt.Sprintf("exit code %d", r.ExitCode)
	}
	return t
}
