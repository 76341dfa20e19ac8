// Package reposync deduplicates and serializes repository mirror refreshes.
// All jobs on one executor share a single on-disk mirror cache, so refreshes
// must never run concurrently with each other or with ad-hoc merge/cat
// operations; one Coordinator per process enforces that.
package reposync

import (
	"log/slog"
	"sync"

	"github.com/mattjoyce/gantry/internal/log"
)

// Task is one pending refresh of connection/project. Every caller that
// requested the same key while it was pending shares the same Task and
// observes the same completion.
type Task struct {
	Connection string
	Project    string

	done chan struct{}
}

func newTask(connection, project string) *Task {
	return &Task{
		Connection: connection,
		Project:    project,
		done:       make(chan struct{}),
	}
}

// Wait blocks until the refresh has finished. It returns no error: a failed
// refresh still completes the task so waiters never hang, and the job that
// needed the refs discovers the problem during workspace preparation.
func (t *Task) Wait() {
	<-t.done
}

func (t *Task) complete() {
	close(t.done)
}

// UpdateFunc performs the actual mirror refresh.
type UpdateFunc func(connection, project string) error

// Coordinator owns the pending-refresh queue and its single consumer loop.
type Coordinator struct {
	update UpdateFunc
	serial *sync.Mutex // shared with merge/cat operations
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Task // nil entry is the shutdown sentinel
}

// New creates a Coordinator. serial is the process-wide lock shared with
// merge/cat; update performs one refresh.
func New(serial *sync.Mutex, update UpdateFunc) *Coordinator {
	c := &Coordinator{
		update: update,
		serial: serial,
		logger: log.WithComponent("reposync"),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Submit requests a refresh of connection/project. If an equivalent request
// is already pending, its task is returned and no new work is enqueued.
func (c *Coordinator) Submit(connection, project string) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.pending {
		if t != nil && t.Connection == connection && t.Project == project {
			return t
		}
	}
	t := newTask(connection, project)
	c.pending = append(c.pending, t)
	c.cond.Signal()
	return t
}

// Pending returns the number of queued refreshes.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop enqueues the shutdown sentinel. Run returns after draining every task
// queued ahead of it.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.pending = append(c.pending, nil)
	c.cond.Signal()
	c.mu.Unlock()
}

// Run is the consumer loop. It pops tasks in FIFO order, refreshes under the
// serialization lock, and completes the task whether or not the refresh
// succeeded. Run returns when it pops the shutdown sentinel.
func (c *Coordinator) Run() {
	for {
		task := c.next()
		if task == nil {
			return
		}
		c.runOne(task)
	}
}

func (c *Coordinator) next() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) == 0 {
		c.cond.Wait()
	}
	t := c.pending[0]
	c.pending = c.pending[1:]
	return t
}

func (c *Coordinator) runOne(task *Task) {
	defer task.complete()

	c.serial.Lock()
	defer c.serial.Unlock()

	c.logger.Info("updating repo", "connection", task.Connection, "project", task.Project)
	if err := c.update(task.Connection, task.Project); err != nil {
		c.logger.Error("repo update failed", "connection", task.Connection,
			"project", task.Project, "error", err)
		return
	}
	c.logger.Debug("finished updating repo", "connection", task.Connection, "project", task.Project)
}
