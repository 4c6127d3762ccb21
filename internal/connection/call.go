package connection

import (
	"context"
	"sync"
	"time"
)

// SendOptions controls a single send.
type SendOptions struct {
	WaitForResponse bool
	Timeout         time.Duration // Zero uses Config.DefaultResponseTimeout
	Binary          bool
}

// SendOption configures a send.
type SendOption func(*SendOptions)

// WithoutResponse settles the call as soon as the frame is written.
func WithoutResponse() SendOption {
	return func(o *SendOptions) { o.WaitForResponse = false }
}

// WithTimeout overrides the response timeout for one request.
func WithTimeout(d time.Duration) SendOption {
	return func(o *SendOptions) { o.Timeout = d }
}

// AsBinary sends a []byte payload as a binary frame. Binary frames carry no
// message id and never wait for a response.
func AsBinary() SendOption {
	return func(o *SendOptions) {
		o.Binary = true
		o.WaitForResponse = false
	}
}

func buildSendOptions(opts []SendOption) SendOptions {
	o := SendOptions{WaitForResponse: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Call is an outbound message in flight. It settles exactly once: with the
// correlated response, with nil after a fire-and-forget write, or with an
// error.
type Call struct {
	done     chan struct{}
	once     sync.Once
	callback func(*Message, error)

	// Set before done is closed.
	resp *Message
	err  error

	idMu sync.Mutex
	id   string

	// Loop-owned.
	timer *loopTimer
}

func newCall(cb func(*Message, error)) *Call {
	return &Call{done: make(chan struct{}), callback: cb}
}

// ID returns the message id assigned when the call was written, or "" if it
// has not been written yet.
func (c *Call) ID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.id
}

func (c *Call) setID(id string) {
	c.idMu.Lock()
	c.id = id
	c.idMu.Unlock()
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the settled response and error. Only valid after Done.
func (c *Call) Result() (*Message, error) {
	return c.resp, c.err
}

// Wait blocks until the call settles or ctx is done. Canceling ctx does not
// cancel the call.
func (c *Call) Wait(ctx context.Context) (*Message, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle records the outcome. It returns false if the call had already
// settled.
func (c *Call) settle(resp *Message, err error) bool {
	settled := false
	c.once.Do(func() {
		c.resp, c.err = resp, err
		close(c.done)
		settled = true
	})
	return settled
}

// pendingTable maps message ids to calls awaiting a response.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*Call)}
}

func (p *pendingTable) add(id string, c *Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.calls[id]; ok {
		return ErrIDInUse
	}
	p.calls[id] = c
	return nil
}

// take removes and returns the call registered under id.
func (p *pendingTable) take(id string) (*Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	return c, ok
}

// drain removes every call.
func (p *pendingTable) drain() []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Call, 0, len(p.calls))
	for id, c := range p.calls {
		out = append(out, c)
		delete(p.calls, id)
	}
	return out
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
