// Package process supervises external load-generator processes.
package process

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Spec describes one process to launch. Env is appended to the environment
// of the current process.
type Spec struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Output  io.Writer
}

// Exit is what a handle reports once its process is gone.
type Exit struct {
	Code int
	Err  error
}

// Handle owns exactly one spawned process.
type Handle interface {
	PID() int
	// Terminate asks the process to stop. Once the signal was delivered,
	// further calls and calls after exit are no-ops. A failed attempt returns
	// its error and may be retried.
	Terminate() error
	// OnExit registers cb to be called once with the exit status. If the
	// process already exited, cb runs immediately.
	OnExit(cb func(Exit))
}

type Spawner interface {
	Spawn(spec Spec) (Handle, error)
}

// ExecSpawner starts processes with os/exec.
type ExecSpawner struct {
	// KillGrace is how long a terminated process may take to exit before its
	// process group is killed. Zero disables the escalation.
	KillGrace time.Duration
	Log       *logrus.Entry
}

func NewExecSpawner(killGrace time.Duration, log *logrus.Entry) *ExecSpawner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ExecSpawner{KillGrace: killGrace, Log: log.WithField("component", "process")}
}

func (s *ExecSpawner) Spawn(spec Spec) (Handle, error) {
	if spec.Command == "" {
		return nil, errors.New("command is required")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	if spec.Output != nil {
		cmd.Stdout = spec.Output
		cmd.Stderr = spec.Output
	}
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", spec.Command)
	}

	p := &proc{
		cmd:    cmd,
		grace:  s.KillGrace,
		done:   make(chan struct{}),
		signal: terminateProcess,
		log:    s.Log.WithField("pid", cmd.Process.Pid),
	}
	p.log.Debugf("started %s", spec.Command)
	go p.wait()
	return p, nil
}

type proc struct {
	cmd    *exec.Cmd
	grace  time.Duration
	log    *logrus.Entry
	signal func(*exec.Cmd) error

	sigMu     sync.Mutex
	signalled bool
	done      chan struct{}

	mu        sync.Mutex
	exited    bool
	exit      Exit
	callbacks []func(Exit)
	killTimer *time.Timer
}

func (p *proc) PID() int {
	return p.cmd.Process.Pid
}

func (p *proc) wait() {
	err := p.cmd.Wait()
	code := exitCode(err)

	p.mu.Lock()
	p.exited = true
	p.exit = Exit{Code: code}
	if _, ok := err.(*exec.ExitError); !ok {
		p.exit.Err = err
	}
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	callbacks := p.callbacks
	p.callbacks = nil
	exit := p.exit
	p.mu.Unlock()
	close(p.done)

	p.log.WithField("exitCode", code).Debug("process exited")
	for _, cb := range callbacks {
		cb(exit)
	}
}

func (p *proc) OnExit(cb func(Exit)) {
	p.mu.Lock()
	if !p.exited {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	}
	exit := p.exit
	p.mu.Unlock()
	cb(exit)
}

func (p *proc) Terminate() error {
	p.sigMu.Lock()
	defer p.sigMu.Unlock()
	if p.signalled {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	p.log.Info("sending terminate signal")
	if err := p.signal(p.cmd); err != nil {
		return errors.Wrap(err, "failed to signal process")
	}
	p.signalled = true

	if p.grace <= 0 {
		return nil
	}
	p.mu.Lock()
	if !p.exited {
		p.killTimer = time.AfterFunc(p.grace, func() {
			select {
			case <-p.done:
			default:
				p.log.Warnf("still running %s after terminate, killing", p.grace)
				killProcess(p.cmd)
			}
		})
	}
	p.mu.Unlock()
	return nil
}

// exitCode maps the result of Wait to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return signalExitCode(exitErr)
	}
	return -1
}
