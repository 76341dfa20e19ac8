package rpc

import (
	"context"
	"errors"
)

// ErrInterrupted is returned by Worker.GetJob when the wait was cut short by
// a broker disconnect or an explicit Interrupt. Callers are expected to loop
// and call GetJob again (or shut down).
var ErrInterrupted = errors.New("rpc: wait for job interrupted")

// Job is a single unit of work handed to us by the broker. The executor
// reports progress and the final outcome back through the same handle.
//
// SendWorkComplete, SendWorkFail and SendWorkException are terminal; calling
// any Send method after a terminal one returns an error.
type Job interface {
	// Name is the registered function name, e.g. "executor:execute".
	Name() string
	// Unique is the broker-assigned identifier for this job. For execute
	// jobs it is the build UUID.
	Unique() string
	// Arguments is the raw JSON argument document.
	Arguments() []byte

	SendWorkData(data []byte) error
	SendWorkStatus(numerator, denominator int) error
	SendWorkComplete(data []byte) error
	SendWorkFail() error
	SendWorkException(data []byte) error
}

// Worker is a registered consumer of broker functions. Implementations must
// be safe for a single consumer goroutine plus concurrent Interrupt calls.
type Worker interface {
	RegisterFunction(name string)
	// GetJob blocks until a job for one of the registered functions is
	// available. It returns ErrInterrupted on broker hiccups and after
	// Interrupt; the caller decides whether to retry.
	GetJob(ctx context.Context) (Job, error)
	// Interrupt wakes up a blocked GetJob call.
	Interrupt()
}
