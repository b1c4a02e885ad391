package llmserver

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// process is a spawned server running in its own process group.
type process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	err  error
}

// spawn starts argv with stdout and stderr appended to logFile. The child
// leads a new process group so the whole tree can be signalled.
func spawn(argv []string, logFile *os.File) (*process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty server command")
	}
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // operator-configured server command
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	p := &process{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// terminate asks the leader to exit.
func (p *process) terminate() error {
	return unix.Kill(p.pid, unix.SIGTERM)
}

// killGroup sends sig to every member of the process group.
func (p *process) killGroup(sig unix.Signal) error {
	err := unix.Kill(-p.pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (p *process) wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return p.exited()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// forceStop kills the group and waits briefly for the leader to be reaped.
func (p *process) forceStop() {
	_ = p.killGroup(unix.SIGKILL)
	p.wait(5 * time.Second)
}
