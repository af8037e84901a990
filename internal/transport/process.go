package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// Stdout marker prefixes emitted by the worker process.
const (
	markerQRDataURL = "QR_DATAURL:"
	markerQRRaw     = "QR_RAW:"
	markerStatus    = "STATUS:"
)

// maxLineBytes caps a single stdout line (QR data URLs are large).
const maxLineBytes = 1 << 20

// ProcessConfig configures the supervised worker process.
type ProcessConfig struct {
	Command string
	Args    []string // fixed args; the session id is appended
}

// Process supervises an external worker that speaks the line-marker
// protocol on stdout: QR_DATAURL:<payload>, QR_RAW:<payload>,
// STATUS:<state>[:<detail>]. Process exit is observed independently of
// stdout and reported as an Exited event.
type Process struct {
	cfg       ProcessConfig
	sessionID string
	credsDir  string
	events    chan Event

	mu       sync.Mutex
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stopped  bool
	stopOnce sync.Once
}

// NewProcess creates a process transport for a session.
func NewProcess(cfg ProcessConfig, sessionID, credsDir string) *Process {
	return &Process{
		cfg:       cfg,
		sessionID: sessionID,
		credsDir:  credsDir,
		events:    make(chan Event, 32),
	}
}

// Events returns the lifecycle event stream. The channel is closed
// after the Exited event once the process is gone.
func (p *Process) Events() <-chan Event { return p.events }

// Start spawns the worker process and begins consuming its output.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return fmt.Errorf("transport already stopped")
	}
	if p.cmd != nil {
		return fmt.Errorf("transport already started")
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	args := append(append([]string{}, p.cfg.Args...), p.sessionID)
	cmd := exec.CommandContext(procCtx, p.cfg.Command, args...)
	cmd.Env = append(os.Environ(), "FIREZAP_SESSION_DIR="+p.credsDir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("spawn %s: %w", p.cfg.Command, err)
	}

	p.cmd = cmd
	p.cancel = cancel
	go p.supervise(stdout, stderr)

	slog.Info("worker process started", "session", p.sessionID, "pid", cmd.Process.Pid)
	return nil
}

// Stop kills the worker if it is running. Idempotent.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// supervise drains both output streams, then reaps the process and
// emits the terminal Exited event before closing the event channel.
func (p *Process) supervise(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.scanStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		p.scanStderr(stderr)
	}()
	wg.Wait()

	err := p.cmd.Wait()
	code, signal := exitStatus(p.cmd, err)
	slog.Info("worker process exited", "session", p.sessionID, "code", code, "signal", signal)

	p.events <- Event{Kind: EventExited, ExitCode: code, Signal: signal}
	close(p.events)
}

// scanStdout parses complete marker lines. Output arrives in arbitrary
// chunks; bufio.Scanner only hands us fully terminated lines.
func (p *Process) scanStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		ev, ok := ParseLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				slog.Debug("unrecognized worker output", "session", p.sessionID, "line", truncateLine(line))
			}
			continue
		}
		p.events <- ev
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("worker stdout read error", "session", p.sessionID, "error", err)
	}
}

func (p *Process) scanStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		slog.Debug("worker stderr", "session", p.sessionID, "line", truncateLine(scanner.Text()))
	}
}

// ParseLine matches one stdout line against the marker grammar. Lines
// that match no marker, and STATUS lines with an unknown state token,
// return ok=false and must be dropped by the caller.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r")
	switch {
	case strings.HasPrefix(line, markerQRDataURL):
		return Event{Kind: EventQR, Payload: line[len(markerQRDataURL):]}, true

	case strings.HasPrefix(line, markerQRRaw):
		return Event{Kind: EventQRRaw, Payload: line[len(markerQRRaw):]}, true

	case strings.HasPrefix(line, markerStatus):
		state, detail, _ := strings.Cut(line[len(markerStatus):], ":")
		switch state {
		case "authenticated":
			return Event{Kind: EventAuthenticated}, true
		case "ready":
			return Event{Kind: EventReady}, true
		case "disconnected":
			return Event{Kind: EventDisconnected, Detail: detail}, true
		case "error":
			return Event{Kind: EventError, Detail: detail}, true
		default:
			return Event{}, false
		}
	}
	return Event{}, false
}

// exitStatus extracts the exit code and terminating signal.
func exitStatus(cmd *exec.Cmd, waitErr error) (code int, signal string) {
	state := cmd.ProcessState
	if state == nil {
		if waitErr != nil {
			return -1, ""
		}
		return 0, ""
	}
	code = state.ExitCode()
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		signal = ws.Signal().String()
	}
	return code, signal
}

func truncateLine(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
