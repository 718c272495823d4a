// Package executor implements the single-host SSH execution unit. It opens
// a connection with the credential's private key, feeds the script body to
// an interpreter over stdin, collects exit status and output streams, and
// commits exactly one terminal host log row per invocation.
//
// Host keys are accepted automatically (no TOFU pinning) — a documented
// trade-off inherited from the deployment model where targets are
// short-lived fleet machines. Per-host failures never escape this package:
// every outcome, including transport errors, ends as a classified log row.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/metrics"
)

const (
	// defaultConnectTimeout bounds the TCP dial and, separately, the SSH
	// handshake (version banner included).
	defaultConnectTimeout = 15 * time.Second

	// defaultExecTimeout bounds the remote command from start to exit.
	defaultExecTimeout = 300 * time.Second

	// interpretedCommand is the fixed interpreter for "interpreted"
	// templates. It reads the script from stdin, same as the shell path.
	interpretedCommand = "python3 -"
)

// LogStore persists host log rows. Implemented by repositories.HostLogStore;
// tests substitute an in-memory fake.
type LogStore interface {
	Begin(ctx context.Context, kind db.OwnerKind, ownerID uuid.UUID, hostname string) (uuid.UUID, error)
	Finish(ctx context.Context, kind db.OwnerKind, logID uuid.UUID, stdout, stderr, status string) error
}

// Result is the terminal outcome of one host execution.
type Result struct {
	LogID  uuid.UUID
	Status string // success | error | connection_failed
	Stdout string
	Stderr string
}

// Executor runs scripts on single hosts over SSH. Safe for concurrent use;
// each Execute call opens its own connection and session.
type Executor struct {
	logs   LogStore
	logger *zap.Logger

	// Timeouts are fields so tests can shrink them. Zero values fall back
	// to the defaults in New.
	ConnectTimeout time.Duration
	ExecTimeout    time.Duration

	// dial is swapped in tests to avoid real network I/O.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// New creates an Executor writing host logs through logs.
func New(logs LogStore, logger *zap.Logger) *Executor {
	return &Executor{
		logs:           logs,
		logger:         logger.Named("executor"),
		ConnectTimeout: defaultConnectTimeout,
		ExecTimeout:    defaultExecTimeout,
		dial:           net.DialTimeout,
	}
}

// Execute runs the script body on host and returns the terminal result.
// The log row is created in "running" before any network activity and
// finalised exactly once. The returned error is non-nil only for catalog
// failures — remote and transport failures are expressed as the result's
// status and stderr, never as an error.
func (e *Executor) Execute(ctx context.Context, host *db.Host, cred *db.Credential, script, scriptType string, kind db.OwnerKind, ownerID uuid.UUID) (*Result, error) {
	logID, err := e.logs.Begin(ctx, kind, ownerID, host.Hostname)
	if err != nil {
		return nil, fmt.Errorf("executor: begin log: %w", err)
	}

	start := time.Now()
	res := e.run(ctx, host, cred, script, scriptType)
	res.LogID = logID

	metrics.ExecutionsTotal.WithLabelValues(res.Status).Inc()
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	if err := e.logs.Finish(ctx, kind, logID, res.Stdout, res.Stderr, res.Status); err != nil {
		return nil, fmt.Errorf("executor: finish log: %w", err)
	}

	e.logger.Info("execution finished",
		zap.String("hostname", host.Hostname),
		zap.String("status", res.Status),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// run performs the connection and remote execution and classifies the
// outcome. It never touches the catalog.
func (e *Executor) run(ctx context.Context, host *db.Host, cred *db.Credential, script, scriptType string) *Result {
	signer, err := parsePrivateKey(string(cred.PrivateKey))
	if err != nil {
		return &Result{Status: db.LogStatusConnectionFailed, Stderr: err.Error()}
	}

	addr := net.JoinHostPort(host.Hostname, strconv.Itoa(host.Port))

	cfg := &ssh.ClientConfig{
		User: host.Username,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Unknown host keys are accepted automatically; see package doc.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.ConnectTimeout,
	}

	e.logger.Info("connecting",
		zap.String("addr", addr),
		zap.String("username", host.Username),
	)

	conn, err := e.dial("tcp", addr, e.ConnectTimeout)
	if err != nil {
		return &Result{Status: db.LogStatusConnectionFailed, Stderr: classify(err)}
	}

	// The handshake (including the server's version banner) gets its own
	// deadline; x/crypto/ssh's Timeout only covers the dial.
	_ = conn.SetDeadline(time.Now().Add(e.ConnectTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return &Result{Status: db.LogStatusConnectionFailed, Stderr: classify(err)}
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return &Result{Status: db.LogStatusConnectionFailed, Stderr: classify(err)}
	}
	defer session.Close()

	command := host.Shell
	if scriptType == db.ScriptTypeInterpreted {
		command = interpretedCommand
	}

	var stdout, stderr syncBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	stdin, err := session.StdinPipe()
	if err != nil {
		return &Result{Status: db.LogStatusConnectionFailed, Stderr: classify(err)}
	}

	if err := session.Start(command); err != nil {
		return &Result{Status: db.LogStatusConnectionFailed, Stderr: classify(err)}
	}

	// The script body goes to the interpreter verbatim, then stdin is
	// half-closed so the interpreter sees EOF and starts executing.
	if _, err := stdin.Write([]byte(script)); err != nil {
		return &Result{Status: db.LogStatusConnectionFailed, Stderr: classify(err)}
	}
	_ = stdin.Close()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(e.ExecTimeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		return &Result{
			Status: db.LogStatusConnectionFailed,
			Stderr: fmt.Sprintf("Connection Timeout: command did not finish within %s", e.ExecTimeout),
			Stdout: lossyUTF8(stdout.String()),
		}
	case <-ctx.Done():
		return &Result{
			Status: db.LogStatusConnectionFailed,
			Stderr: classify(ctx.Err()),
			Stdout: lossyUTF8(stdout.String()),
		}
	}

	res := &Result{
		Stdout: lossyUTF8(stdout.String()),
		Stderr: lossyUTF8(stderr.String()),
	}

	switch {
	case err == nil:
		res.Status = db.LogStatusSuccess
	default:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// A remote non-zero exit is a script failure, never a
			// connection failure.
			res.Status = db.LogStatusError
		} else {
			res.Status = db.LogStatusConnectionFailed
			res.Stderr = classify(err)
		}
	}
	return res
}

// classify renders a transport-layer error with the prefix operators use to
// triage failures from the log row alone.
func classify(err error) string {
	var netErr net.Error

	switch {
	case isAuthError(err):
		return "Authentication Error: " + err.Error()
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		return "Connection Timeout: " + err.Error()
	case isSSHError(err):
		return "SSH Error: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}

// isAuthError reports whether err is an SSH authentication rejection.
// x/crypto/ssh does not export a sentinel for this, so the handshake error
// text is the only discriminator available.
func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// isSSHError reports whether err originated in the SSH protocol layer.
func isSSHError(err error) bool {
	if err == nil {
		return false
	}
	var (
		openChanErr *ssh.OpenChannelError
		serverErr   *ssh.ServerAuthError
	)
	if errors.As(err, &openChanErr) || errors.As(err, &serverErr) {
		return true
	}
	return strings.Contains(err.Error(), "ssh:")
}

// lossyUTF8 replaces invalid byte sequences with the Unicode replacement
// character. Binary output from a remote command must not fail the run.
func lossyUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// syncBuffer is a mutex-guarded bytes.Buffer. The ssh session copies remote
// output into Stdout/Stderr from its own goroutine; on the exec-timeout and
// cancellation branches that goroutine may still be writing when the partial
// output is read, so both sides must hold the lock.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
