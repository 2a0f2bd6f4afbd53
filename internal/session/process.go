package session

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/dshills/luahost/internal/events"
	"github.com/dshills/luahost/internal/scheduler"
)

// childProcess is a command started by the system builtin.
type childProcess struct {
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	tok     *scheduler.Token
}

// childExit resolves a child's token when the process ends.
type childExit struct {
	code int
	err  error
}

func (c *childProcess) writeLine(line string) error {
	if c.stdin == nil {
		return ErrNotAwaitingInput
	}
	_, err := io.WriteString(c.stdin, line+"\n")
	return err
}

func (c *childProcess) kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func shellCommand(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command)
	}
	return exec.Command("sh", "-c", command)
}

// runCommand starts command and runs the loop until it exits or is
// interrupted. Output arrives on the immediate lane as output events.
func (s *Session) runCommand(command string, input bool) (int, error) {
	cmd := shellCommand(command)

	var stdin io.WriteCloser
	if input {
		if s.quiet > 0 {
			return -1, ErrInputUnavailable
		}
		w, err := cmd.StdinPipe()
		if err != nil {
			return -1, fmt.Errorf("stdin pipe: %w", err)
		}
		stdin = w
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting %q: %w", command, err)
	}

	child := &childProcess{command: command, cmd: cmd, stdin: stdin, tok: s.loop.NewToken()}
	s.children = append(s.children, child)
	s.logger.Debug("child started", "command", command, "pid", cmd.Process.Pid, "input", input)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.pump(&readers, stdout, events.StreamStdout)
	go s.pump(&readers, stderr, events.StreamStderr)
	go func() {
		readers.Wait()
		exit := childExit{err: cmd.Wait()}
		exit.code = exitCode(exit.err)
		_ = s.loop.Submit(scheduler.Task{Immediate: true, Fn: func() {
			s.loop.Resume(child.tok, exit)
		}})
	}()

	state := scheduler.StateChildProcess
	if input {
		state = scheduler.StateSubprocessInput
	}
	prev := s.state.Set(state)
	if input {
		s.events.Emit(events.NewSubprocessInput(command))
	}

	var runOpts []scheduler.RunOption
	if s.quiet > 0 {
		runOpts = append(runOpts, scheduler.WithSuppressOutput())
	}
	v, err := s.loop.RunToken(child.tok, runOpts...)

	s.children = s.children[:len(s.children)-1]
	if stdin != nil {
		_ = stdin.Close()
	}
	s.state.Set(prev)

	if err != nil {
		child.kill()
		return -1, err
	}
	exit, ok := v.(childExit)
	if !ok {
		return -1, ErrInterrupted
	}
	if exit.code < 0 {
		return -1, exit.err
	}
	s.logger.Debug("child exited", "command", command, "code", exit.code)
	return exit.code, nil
}

// pump forwards a child's output stream to the loop.
func (s *Session) pump(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			text := string(buf[:n])
			_ = s.loop.Submit(scheduler.Task{Immediate: true, Fn: func() {
				s.output(stream, text)
			}})
		}
		if err != nil {
			return
		}
	}
}

// exitCode maps a Wait error to an exit code; -1 means the process could
// not be waited for.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
