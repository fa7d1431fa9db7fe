package service

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/polisai/atomws/pkg/job"
)

// trackedListener wraps accepted connections so their traffic is counted and
// the job they currently serve can be found.
type trackedListener struct {
	net.Listener
	stats *counters
}

func (l *trackedListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &trackedConn{Conn: c, stats: l.stats}, nil
}

// trackedConn counts bytes in both directions and implements job.Conn.
type trackedConn struct {
	net.Conn
	stats *counters

	mu  sync.Mutex
	job *job.Job

	closed atomic.Bool
}

var _ job.Conn = (*trackedConn)(nil)

func (c *trackedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.stats.transferred(int64(n), 0)
	}
	return n, err
}

func (c *trackedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.stats.transferred(0, int64(n))
	}
	return n, err
}

// Job returns the job currently attached to the connection.
func (c *trackedConn) Job() *job.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// SetJob attaches j, or detaches with nil.
func (c *trackedConn) SetJob(j *job.Job) {
	c.mu.Lock()
	c.job = j
	c.mu.Unlock()
}

// Close destroys the transport. Closing twice is harmless.
func (c *trackedConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Conn.Close()
}

type connKey struct{}

// connContext stores the tracked connection on the request context.
func connContext(ctx context.Context, c net.Conn) context.Context {
	if tc, ok := c.(*trackedConn); ok {
		return context.WithValue(ctx, connKey{}, tc)
	}
	return ctx
}

// requestConn returns the tracked connection serving r, nil when untracked.
func requestConn(r *http.Request) job.Conn {
	if tc, ok := r.Context().Value(connKey{}).(*trackedConn); ok {
		return tc
	}
	return nil
}

// connState keeps the open-connection gauges in step with the server.
func (c *counters) connState(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		c.connOpened()
	case http.StateClosed, http.StateHijacked:
		c.connClosed()
	}
}
