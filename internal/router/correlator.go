// Package router carries agent calls to browser windows: it resolves the
// target window, writes the frame, and parks the caller until the page's
// reply comes back with the matching correlation id.
package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabhub/tabhub/pkg/frame"
)

// pending tracks one in-flight request.
type pending struct {
	peerID string
	ch     chan frame.Reply
	timer  *time.Timer
}

// Correlator matches asynchronous page replies to waiting callers. Every
// issued waiter resolves exactly once: with the reply, with the timeout
// value, or with a transport error when the peer drops.
type Correlator struct {
	mu      sync.Mutex
	waiters map[string]*pending
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{waiters: make(map[string]*pending)}
}

// Issue registers a waiter bound to a peer and arms its timeout. The
// returned channel is buffered; resolution never blocks.
func (c *Correlator) Issue(peerID string, timeout time.Duration) (string, <-chan frame.Reply) {
	id := uuid.New().String()
	p := &pending{
		peerID: peerID,
		ch:     make(chan frame.Reply, 1),
	}

	c.mu.Lock()
	p.timer = time.AfterFunc(timeout, func() { c.Expire(id) })
	c.waiters[id] = p
	c.mu.Unlock()

	return id, p.ch
}

// Deliver resolves a waiter with the page's reply. Late or duplicate
// replies find no waiter and are dropped silently.
func (c *Correlator) Deliver(id string, r frame.Reply) {
	p, ok := c.take(id)
	if !ok {
		return
	}
	p.timer.Stop()
	p.ch <- r
}

// Expire resolves a waiter with the timeout value.
func (c *Correlator) Expire(id string) {
	p, ok := c.take(id)
	if !ok {
		return
	}
	p.ch <- *frame.NewErrorReply(id, "Timeout")
}

// Fail resolves a single waiter with a transport error.
func (c *Correlator) Fail(id, errMsg string) {
	p, ok := c.take(id)
	if !ok {
		return
	}
	p.timer.Stop()
	p.ch <- *frame.NewErrorReply(id, errMsg)
}

// FailPeer resolves every waiter bound to a disconnected peer with a
// transport error.
func (c *Correlator) FailPeer(peerID, errMsg string) {
	c.mu.Lock()
	var failed []struct {
		id string
		p  *pending
	}
	for id, p := range c.waiters {
		if p.peerID == peerID {
			delete(c.waiters, id)
			failed = append(failed, struct {
				id string
				p  *pending
			}{id, p})
		}
	}
	c.mu.Unlock()

	for _, f := range failed {
		f.p.timer.Stop()
		f.p.ch <- *frame.NewErrorReply(f.id, errMsg)
	}
}

// Len reports the number of in-flight waiters.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// take removes and returns a waiter, claiming the right to resolve it.
func (c *Correlator) take(id string) (*pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	return p, ok
}
