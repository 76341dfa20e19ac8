package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mattjoyce/gantry/internal/log"
)

const reconnectDelay = 2 * time.Second

// envelope is the newline-delimited JSON frame exchanged with the broker.
// Broker to worker: {"type":"job","name":...,"handle":...,"payload":...}
// Worker to broker: register, data, status, complete, fail, exception.
type envelope struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Handle      string          `json:"handle,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Functions   []string        `json:"functions,omitempty"`
	Numerator   int             `json:"numerator,omitempty"`
	Denominator int             `json:"denominator,omitempty"`
}

// Client is a network-backed Worker speaking newline-delimited JSON over TCP.
// Each call to GetJob reads one job frame; connection loss surfaces as
// ErrInterrupted so the dispatch loops can simply retry.
type Client struct {
	addr   string
	logger *slog.Logger

	mu        sync.Mutex
	functions []string
	conn      net.Conn
	reader    *bufio.Reader
	closed    bool
}

var _ Worker = (*Client)(nil)

// NewClient creates a worker client for the broker at addr. No connection is
// made until the first GetJob call.
func NewClient(addr string) *Client {
	return &Client{
		addr:   addr,
		logger: log.WithComponent("rpc"),
	}
}

func (c *Client) RegisterFunction(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.functions = append(c.functions, name)
	if c.conn != nil {
		if err := c.writeLocked(envelope{Type: "register", Functions: []string{name}}); err != nil {
			c.dropLocked()
		}
	}
}

// GetJob blocks until the broker sends a job. A broken or unreachable
// connection yields ErrInterrupted after a short delay rather than an error
// the caller must special-case.
func (c *Client) GetJob(ctx context.Context) (Job, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	reader := c.reader
	conn := c.conn
	c.mu.Unlock()
	if reader == nil {
		return nil, ErrInterrupted
	}

	// Unblock the read when the context ends or Interrupt fires.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	line, err := reader.ReadBytes('\n')
	if err != nil {
		c.mu.Lock()
		c.dropLocked()
		c.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("broker connection lost", "error", err)
		return nil, ErrInterrupted
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		c.logger.Warn("discarding malformed broker frame", "error", err)
		return nil, ErrInterrupted
	}
	if env.Type != "job" {
		return nil, ErrInterrupted
	}
	return &clientJob{client: c, name: env.Name, unique: env.Handle, args: env.Payload}, nil
}

func (c *Client) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropLocked()
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrInterrupted
	}
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: reconnectDelay}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("broker unreachable, will retry", "addr", c.addr, "error", err)
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			c.mu.Lock()
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
		c.mu.Lock()
		return ErrInterrupted
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	if len(c.functions) > 0 {
		if err := c.writeLocked(envelope{Type: "register", Functions: c.functions}); err != nil {
			c.dropLocked()
			return ErrInterrupted
		}
	}
	c.logger.Info("connected to broker", "addr", c.addr)
	return nil
}

func (c *Client) send(env envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected to broker")
	}
	if err := c.writeLocked(env); err != nil {
		c.dropLocked()
		return err
	}
	return nil
}

func (c *Client) writeLocked(env envelope) error {
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	_, err = c.conn.Write(buf)
	return err
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

type clientJob struct {
	client *Client
	name   string
	unique string
	args   []byte

	mu   sync.Mutex
	dead bool
}

var _ Job = (*clientJob)(nil)

func (j *clientJob) Name() string      { return j.name }
func (j *clientJob) Unique() string    { return j.unique }
func (j *clientJob) Arguments() []byte { return j.args }

func (j *clientJob) SendWorkData(data []byte) error {
	return j.emit(envelope{Type: "data", Handle: j.unique, Payload: data}, false)
}

func (j *clientJob) SendWorkStatus(numerator, denominator int) error {
	return j.emit(envelope{Type: "status", Handle: j.unique, Numerator: numerator, Denominator: denominator}, false)
}

func (j *clientJob) SendWorkComplete(data []byte) error {
	return j.emit(envelope{Type: "complete", Handle: j.unique, Payload: data}, true)
}

func (j *clientJob) SendWorkFail() error {
	return j.emit(envelope{Type: "fail", Handle: j.unique}, true)
}

func (j *clientJob) SendWorkException(data []byte) error {
	return j.emit(envelope{Type: "exception", Handle: j.unique, Payload: data}, true)
}

func (j *clientJob) emit(env envelope, terminal bool) error {
	j.mu.Lock()
	if j.dead {
		j.mu.Unlock()
		return fmt.Errorf("job %s already complete", j.unique)
	}
	if terminal {
		j.dead = true
	}
	j.mu.Unlock()
	return j.client.send(env)
}
