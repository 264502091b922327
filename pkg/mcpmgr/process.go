package mcpmgr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync/atomic"
	"syscall"
	"time"
)

// ProcessState describes the lifecycle of a spawned provider process.
type ProcessState int32

const (
	// ProcessSpawned means the process started and has not been reaped.
	ProcessSpawned ProcessState = iota
	// ProcessExited means the process terminated, normally or by a signal.
	ProcessExited
	// ProcessFailed means waiting on the process failed for a reason other
	// than its exit status.
	ProcessFailed
)

func (s ProcessState) String() string {
	switch s {
	case ProcessSpawned:
		return "spawned"
	case ProcessExited:
		return "exited"
	case ProcessFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const maxStderrLine = 1 << 20

type process struct {
	serverID string
	cmd      *exec.Cmd
	pid      int

	// Parent ends of the child's stdin and stdout.
	stdin  *os.File
	stdout *os.File

	state   atomic.Int32
	done    chan struct{}
	waitErr error

	logger *slog.Logger
}

// startProcess spawns the provider with piped stdio. The child's stderr is
// drained on its own goroutine and logged line by line.
func startProcess(serverID string, pc ProcessConfig, logger *slog.Logger) (*process, error) {
	if pc.Command == "" {
		return nil, fmt.Errorf("%w: %s: command missing", ErrSpawn, serverID)
	}
	cmd := exec.Command(pc.Command, pc.Args...)
	cmd.Env = mergeEnv(os.Environ(), pc.Env)
	cmd.Dir = pc.Dir

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: stdin pipe: %w", ErrSpawn, serverID, err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW)
		return nil, fmt.Errorf("%w: %s: stdout pipe: %w", ErrSpawn, serverID, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("%w: %s: stderr pipe: %w", ErrSpawn, serverID, err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, serverID, err)
	}
	// The child holds its own copies now.
	closeFiles(stdinR, stdoutW, stderrW)

	p := &process{
		serverID: serverID,
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		stdin:    stdinW,
		stdout:   stdoutR,
		done:     make(chan struct{}),
		logger:   logger,
	}
	go p.drainStderr(stderrR)
	go p.wait()
	return p, nil
}

func (p *process) wait() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		p.state.Store(int32(ProcessExited))
	} else {
		p.state.Store(int32(ProcessFailed))
	}
	p.waitErr = err
	close(p.done)
}

func (p *process) drainStderr(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
	for scanner.Scan() {
		p.logger.Info("provider stderr", "pid", p.pid, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("provider stderr unreadable, discarding", "pid", p.pid, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

// State reports the current lifecycle state.
func (p *process) State() ProcessState { return ProcessState(p.state.Load()) }

func (p *process) alive() bool { return p.State() == ProcessSpawned }

// Done is closed once the process has been reaped.
func (p *process) Done() <-chan struct{} { return p.done }

// exitError is only meaningful after Done is closed.
func (p *process) exitError() error { return p.waitErr }

// terminate sends SIGTERM and waits up to grace for the process to exit,
// escalating to SIGKILL. It reports whether the process exited within the grace
// period.
func (p *process) terminate(grace time.Duration) bool {
	if !p.alive() {
		return true
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("SIGTERM failed", "pid", p.pid, "error", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
	}
	p.logger.Info("provider did not exit after SIGTERM, sending SIGKILL", "pid", p.pid)
	p.kill()
	return false
}

func (p *process) kill() {
	if !p.alive() {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("SIGKILL failed", "pid", p.pid, "error", err)
	}
}

// closeIO closes the parent's ends of stdin and stdout.
func (p *process) closeIO() {
	closeFiles(p.stdin, p.stdout)
}

// mergeEnv appends overrides to base in sorted key order. exec.Cmd keeps the
// last value for duplicate keys, so overrides win.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := append([]string(nil), base...)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
