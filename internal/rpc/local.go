package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Broker is an in-process work queue. It backs tests and single-node
// deployments where scheduler and executor share a process; the network
// client in client.go speaks the same Job/Worker contract.
type Broker struct {
	mu      sync.Mutex
	workers []*LocalWorker
}

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{}
}

// NewWorker attaches a new worker to the broker.
func (b *Broker) NewWorker() *LocalWorker {
	w := &LocalWorker{
		functions: make(map[string]bool),
		jobs:      make(chan *localJob, 64),
		interrupt: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.workers = append(b.workers, w)
	b.mu.Unlock()
	return w
}

// Submit hands a job to the first worker registered for function. The
// returned handle lets the submitter observe streamed data and the final
// outcome.
func (b *Broker) Submit(function string, args []byte) (*Submitted, error) {
	return b.SubmitUnique(function, uuid.NewString(), args)
}

// SubmitUnique is Submit with a caller-chosen unique job identifier.
func (b *Broker) SubmitUnique(function, unique string, args []byte) (*Submitted, error) {
	b.mu.Lock()
	var target *LocalWorker
	for _, w := range b.workers {
		if w.hasFunction(function) {
			target = w
			break
		}
	}
	b.mu.Unlock()
	if target == nil {
		return nil, fmt.Errorf("no worker registered for function %q", function)
	}

	sub := &Submitted{
		Handle: unique,
		data:   make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	job := &localJob{name: function, unique: unique, args: args, sub: sub}
	target.jobs <- job
	return sub, nil
}

// Submitted is the submitter-side view of an in-flight job.
type Submitted struct {
	Handle string

	data chan []byte
	done chan struct{}

	mu        sync.Mutex
	result    []byte
	failed    bool
	exception []byte
}

// Data streams SendWorkData payloads in order.
func (s *Submitted) Data() <-chan []byte { return s.data }

// Done is closed once the job reaches a terminal state.
func (s *Submitted) Done() <-chan struct{} { return s.done }

// Result returns the completion payload. Valid after Done is closed.
func (s *Submitted) Result() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Failed reports whether the job ended with SendWorkFail.
func (s *Submitted) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Exception returns the exception payload, or nil.
func (s *Submitted) Exception() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exception
}

// LocalWorker is the worker-side endpoint of the in-process broker.
type LocalWorker struct {
	mu        sync.Mutex
	functions map[string]bool
	jobs      chan *localJob
	interrupt chan struct{}
}

var _ Worker = (*LocalWorker)(nil)

func (w *LocalWorker) RegisterFunction(name string) {
	w.mu.Lock()
	w.functions[name] = true
	w.mu.Unlock()
}

func (w *LocalWorker) hasFunction(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.functions[name]
}

func (w *LocalWorker) GetJob(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.interrupt:
		return nil, ErrInterrupted
	case j := <-w.jobs:
		return j, nil
	}
}

func (w *LocalWorker) Interrupt() {
	select {
	case w.interrupt <- struct{}{}:
	default:
	}
}

type localJob struct {
	name   string
	unique string
	args   []byte

	mu   sync.Mutex
	dead bool
	sub  *Submitted
}

var _ Job = (*localJob)(nil)

func (j *localJob) Name() string      { return j.name }
func (j *localJob) Unique() string    { return j.unique }
func (j *localJob) Arguments() []byte { return j.args }

func (j *localJob) SendWorkData(data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.dead {
		return fmt.Errorf("job %s already complete", j.unique)
	}
	// Copy so the caller can reuse its buffer.
	buf := append([]byte(nil), data...)
	select {
	case j.sub.data <- buf:
	default:
	}
	return nil
}

func (j *localJob) SendWorkStatus(numerator, denominator int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.dead {
		return fmt.Errorf("job %s already complete", j.unique)
	}
	return nil
}

func (j *localJob) SendWorkComplete(data []byte) error {
	return j.finish(func() {
		j.sub.result = append([]byte(nil), data...)
	})
}

func (j *localJob) SendWorkFail() error {
	return j.finish(func() {
		j.sub.failed = true
	})
}

func (j *localJob) SendWorkException(data []byte) error {
	return j.finish(func() {
		j.sub.exception = append([]byte(nil), data...)
	})
}

func (j *localJob) finish(apply func()) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.dead {
		return fmt.Errorf("job %s already complete", j.unique)
	}
	j.dead = true
	j.sub.mu.Lock()
	apply()
	j.sub.mu.Unlock()
	close(j.sub.done)
	return nil
}
