// Package supervisor is the Process Supervisor described in spec.md
// §4.2: it spawns add-on child processes, forwards their stdout/stderr
// to the logger, and guarantees that a stop request eventually
// terminates the OS process even if the child is otherwise blocked.
//
// Grounded on _examples/original_source/src/process_manager.rs (spawn,
// piped stdout/stderr, per-stream line-forwarding goroutine,
// wait-in-background) and the teacher's internal/sync/git.go for the
// exec.CommandContext + context cancellation idiom.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/logger"
)

// StoppedFunc is invoked exactly once when a running child's process
// exits, normally or via Stop, with its id and exit code (-1 if the
// code could not be determined).
type StoppedFunc func(id string, exitCode int)

// Supervisor holds at most one running process per add-on id.
type Supervisor struct {
	mu      sync.Mutex
	running map[string]*runningProcess
	onStop  StoppedFunc
}

type runningProcess struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Supervisor that calls onStop whenever a running child
// exits.
func New(onStop StoppedFunc) *Supervisor {
	return &Supervisor{running: make(map[string]*runningProcess), onStop: onStop}
}

// Start substitutes {name} and {path} into execTemplate, splits on
// whitespace, and spawns the child with stdout/stderr piped and env
// WEBTHINGS_HOME=home. It returns once the child has been launched, not
// once it has registered over IPC.
func (s *Supervisor) Start(id, path, execTemplate, home string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return apperr.AlreadyInState("add-on %s is already running", id)
	}

	cmdline := strings.NewReplacer("{name}", id, "{path}", path).Replace(execTemplate)
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return apperr.Spawn(nil, "exec template for %s is empty", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(cmd.Environ(), fmt.Sprintf("WEBTHINGS_HOME=%s", home))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return apperr.Spawn(err, "capture stdout for %s", id)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return apperr.Spawn(err, "capture stderr for %s", id)
	}

	logger.Supervisor().Debug().Str("id", id).Str("cmdline", cmdline).Msg("spawning add-on")
	if err := cmd.Start(); err != nil {
		cancel()
		return apperr.Spawn(err, "start add-on %s with %q", id, cmdline)
	}
	logger.Supervisor().Info().Str("id", id).Msg("started")

	proc := &runningProcess{cancel: cancel, done: make(chan struct{})}
	s.running[id] = proc

	forwardLines(id, "stdout", stdout, false)
	forwardLines(id, "stderr", stderr, true)

	go s.waitInBackground(id, cmd, proc)

	return nil
}

func forwardLines(id, stream string, r interface{ Read([]byte) (int, error) }, isErr bool) {
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			event := logger.Supervisor().Info()
			if isErr {
				event = logger.Supervisor().Error()
			}
			event.Str("id", id).Str("stream", stream).Msg(line)
		}
	}()
}

func (s *Supervisor) waitInBackground(id string, cmd *exec.Cmd, proc *runningProcess) {
	err := cmd.Wait()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		logger.Supervisor().Warn().Str("id", id).Err(err).Int("exitCode", exitCode).Msg("add-on process exited")
	} else {
		logger.Supervisor().Info().Str("id", id).Int("exitCode", exitCode).Msg("add-on process exited")
	}

	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()

	if s.onStop != nil {
		s.onStop(id, exitCode)
	}
	close(proc.done)
}

// Stop fires id's cancellation token, which guarantees the OS process
// is eventually killed even if blocked, and waits for the wait-task to
// observe the exit.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	proc, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return apperr.AlreadyInState("add-on %s is not running", id)
	}

	proc.cancel()
	<-proc.done
	return nil
}

// IsRunning reports whether id currently has a live process.
func (s *Supervisor) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}
