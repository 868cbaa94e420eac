// Package supervisor runs the indexer tasks under one cancellation scope.
package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Task is one long-running unit of work. Run returns nil once ctx is cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs tasks until the first one returns or ctx is cancelled.
type Supervisor struct {
	tasks []Task
	log   *logger.Logger
}

// New creates an empty supervisor.
func New(log *logger.Logger) *Supervisor {
	return &Supervisor{log: log}
}

// Add registers a task.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Tasks returns the registered task names.
func (s *Supervisor) Tasks() []string {
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// Run starts every task and waits for all of them. The first task to return,
// with or without an error, cancels the others. The first task error is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.tasks) == 0 {
		return errors.New("no tasks to run")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := new(errgroup.Group)
	for _, task := range s.tasks {
		g.Go(func() error {
			defer cancel()

			metrics.TaskRunningSet(task.Name, true)
			defer metrics.TaskRunningSet(task.Name, false)

			s.log.Infow("task started", "task", task.Name)
			err := s.runTask(ctx, task)
			if err != nil {
				metrics.TaskFailureInc(task.Name)
				s.log.Errorw("task failed", "task", task.Name, "error", err)
				return fmt.Errorf("%s: %w", task.Name, err)
			}

			if ctx.Err() == nil {
				s.log.Warnw("task exited, stopping the others", "task", task.Name)
			} else {
				s.log.Infow("task stopped", "task", task.Name)
			}
			return nil
		})
	}

	return g.Wait()
}

// runTask converts a panic into an error so siblings still drain.
func (s *Supervisor) runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
