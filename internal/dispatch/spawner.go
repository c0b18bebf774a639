package dispatch

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/ligustah/relay/internal/worker"
)

// Spawner launches a transfer for url into key without waiting for it.
type Spawner interface {
	Spawn(url, key string) error
}

// Runner runs one transfer to completion.
type Runner interface {
	Run(ctx context.Context, url, key string) (worker.Result, error)
}

// GoroutineSpawner runs transfers in the current process.
type GoroutineSpawner struct {
	runner Runner
	ctx    context.Context
	log    log.Interface
	wg     sync.WaitGroup
}

// NewGoroutineSpawner creates a spawner whose workers run with a context
// detached from ctx's cancellation.
func NewGoroutineSpawner(ctx context.Context, runner Runner, logger log.Interface) *GoroutineSpawner {
	if logger == nil {
		logger = log.Log
	}
	return &GoroutineSpawner{
		runner: runner,
		ctx:    context.WithoutCancel(ctx),
		log:    logger,
	}
}

func (s *GoroutineSpawner) Spawn(url, key string) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.runner.Run(s.ctx, url, key)
		if err != nil {
			s.log.WithError(err).WithFields(log.Fields{
				"key": key,
				"run": res.RunID,
			}).Warn("worker finished with error")
		}
	}()
	return nil
}

// Wait blocks until every spawned worker has returned.
func (s *GoroutineSpawner) Wait() {
	s.wg.Wait()
}

// ProcessSpawner runs each transfer in a child process.
type ProcessSpawner struct {
	// Executable is the relay binary. Default: os.Executable()
	Executable string
	// Args are passed before "worker <url> <key>", e.g. a config flag.
	Args []string
	Env  []string

	log log.Interface
	wg  sync.WaitGroup
}

// NewProcessSpawner creates a spawner that execs the relay binary.
func NewProcessSpawner(executable string, args []string, logger log.Interface) (*ProcessSpawner, error) {
	if executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "locate relay executable")
		}
		executable = exe
	}
	if logger == nil {
		logger = log.Log
	}
	return &ProcessSpawner{Executable: executable, Args: args, log: logger}, nil
}

func (s *ProcessSpawner) command(url, key string) *exec.Cmd {
	args := append(append([]string(nil), s.Args...), "worker", url, key)
	cmd := exec.Command(s.Executable, args...)
	if s.Env != nil {
		cmd.Env = s.Env
	}
	return cmd
}

func (s *ProcessSpawner) Spawn(url, key string) error {
	cmd := s.command(url, key)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start worker for %s", key)
	}

	logger := s.log.WithFields(log.Fields{"key": key, "pid": cmd.Process.Pid})
	logger.Debug("worker process started")

	// reap the child so it does not linger as a zombie
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := cmd.Wait(); err != nil {
			logger.WithError(err).Warn("worker process exited with error")
		}
	}()
	return nil
}

// Wait blocks until every started child process has exited.
func (s *ProcessSpawner) Wait() {
	s.wg.Wait()
}
