// Package correlator matches DAP responses to their in-flight requests
// by sequence number and enforces a per-request timeout. It imposes no
// ordering on responses: they may be resolved in any order relative to
// when their requests were issued.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dbgbridge/dbgbridge/internal/transport"
)

// DefaultTimeout is the per-request timeout mandated by the protocol
// design: every DAP request gets ten seconds unless the caller supplies
// a shorter deadline via ctx.
const DefaultTimeout = 10 * time.Second

// Sender is the subset of *transport.Transport the correlator needs.
type Sender interface {
	Send(v any) error
	NextSeq() int
}

type pending struct {
	resultCh chan result
}

type result struct {
	body    json.RawMessage
	success bool
	message string
}

// Correlator owns the map of requests awaiting a response.
type Correlator struct {
	send Sender

	mu      sync.Mutex
	waiting map[int]*pending
}

// New creates a Correlator that writes outgoing requests through send.
func New(send Sender) *Correlator {
	return &Correlator{
		send:    send,
		waiting: make(map[int]*pending),
	}
}

// outgoing is the minimal DAP request envelope; Arguments is any
// go-dap arguments struct or nil.
type outgoing struct {
	Seq       int    `json:"seq"`
	Type      string `json:"type"`
	Command   string `json:"command"`
	Arguments any    `json:"arguments,omitempty"`
}

// Send issues a DAP request and blocks until the matching response
// arrives, ctx is done, or the per-request timeout (10s, unless ctx
// already carries a shorter deadline) elapses.
func (c *Correlator) Send(ctx context.Context, command string, args any) (json.RawMessage, error) {
	seq := c.send.NextSeq()

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	p := &pending{resultCh: make(chan result, 1)}
	c.mu.Lock()
	c.waiting[seq] = p
	c.mu.Unlock()

	req := outgoing{Seq: seq, Type: "request", Command: command, Arguments: args}
	if err := c.send.Send(req); err != nil {
		c.mu.Lock()
		delete(c.waiting, seq)
		c.mu.Unlock()
		return nil, fmt.Errorf("correlator: send %s: %w", command, err)
	}

	select {
	case r := <-p.resultCh:
		if !r.success {
			return nil, fmt.Errorf("correlator: %s failed: %s", command, r.message)
		}
		return r.body, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiting, seq)
		c.mu.Unlock()
		return nil, fmt.Errorf("correlator: %s timed out: %w", command, ctx.Err())
	}
}

// Resolve delivers an incoming response envelope to its waiter, if any.
// Envelopes with no matching pending request are silently dropped (the
// request may already have timed out).
func (c *Correlator) Resolve(env transport.Envelope) {
	c.mu.Lock()
	p, ok := c.waiting[env.RequestSeq]
	if ok {
		delete(c.waiting, env.RequestSeq)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	p.resultCh <- result{body: env.Body, success: env.Success, message: env.Message}
}

// FailAll rejects every currently pending request with err, used when
// the transport disconnects or the session terminates.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	waiting := c.waiting
	c.waiting = make(map[int]*pending)
	c.mu.Unlock()

	for _, p := range waiting {
		p.resultCh <- result{success: false, message: err.Error()}
	}
}
