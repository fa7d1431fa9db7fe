// Package job implements the per-request context routed through the atom graph.
//
// A Job is obtained from a recycler.Recycler, populated from an inbound HTTP
// exchange by its Allocate hook, threaded through atoms, and finalized by its
// Release hook exactly once: by a terminal atom, by its timeout, or by the
// connection going away.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout applies when Allocation.Timeout is unset.
	DefaultTimeout = 30 * time.Second
	// TimeoutClosed is the timeout sentinel that disables further routing.
	TimeoutClosed = -1

	// StatusClientClosed is recorded for jobs whose connection went away
	// before a response was sent.
	StatusClientClosed = 499

	// Trail notes written by the engine when a job ends abnormally.
	NoteConnectionFailed = "--connection failed unexpectedly--"
)

var (
	// ErrTimedOut is the context cause when the job's deadline fires.
	ErrTimedOut = errors.New("job timed out")
	// ErrConnectionLost is the context cause when the client goes away.
	ErrConnectionLost = errors.New("connection lost")
)

// Identity describes the service the job is served by.
type Identity struct {
	Title   string
	Powered string
	Hide    bool
	Secure  bool
	Debug   bool
}

// Conn is the transport a job is attached to. The service implements it per
// accepted connection.
type Conn interface {
	Job() *Job
	SetJob(j *Job)
	// Close destroys the transport without writing a response.
	Close() error
}

// Record summarizes a released job for counters.
type Record struct {
	ID       string
	Host     string
	Status   int
	Bytes    int64
	TimedOut bool
	Failed   bool
}

// Observer receives one Record per released job.
type Observer interface {
	JobReleased(rec Record)
}

// Allocation carries everything Allocate needs to bind a job to an exchange.
type Allocation struct {
	Identity Identity
	Request  *http.Request
	Response http.ResponseWriter
	// Conn defaults to a connection derived from Response when nil.
	Conn     Conn
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
	// Finish hands the job back to its pool; defaults to calling Release directly.
	Finish func(j *Job, note string)
}

// Client identifies the remote peer.
type Client struct {
	IP   string
	Port string
}

// Job is the mutable per-request context.
type Job struct {
	id       string
	identity Identity
	request  *http.Request
	response Response
	conn     Conn
	logger   *slog.Logger
	observer Observer
	finish   func(*Job, string)

	ctx    context.Context
	cancel context.CancelCauseFunc

	method  string
	headers http.Header
	client  Client

	protocol  string
	host      string
	port      int
	path      string
	params    map[string]string
	paramKeys []string

	query, url, uri                string
	queryValid, urlValid, uriValid bool

	timeout   int
	timer     *time.Timer
	trail     []string
	released  bool
	timedOut  bool
	abandoned bool
}

// New returns an unallocated job, for use as a recycler constructor.
func New() *Job {
	return &Job{released: true, timeout: TimeoutClosed}
}

// Allocate is the pool hook binding the job to a fresh exchange.
func (j *Job) Allocate(a Allocation) {
	j.id = uuid.NewString()
	j.identity = a.Identity
	j.request = a.Request
	j.response.reset(a.Response)
	j.logger = a.Logger
	if j.logger == nil {
		j.logger = slog.Default()
	}
	j.observer = a.Observer
	j.finish = a.Finish
	j.conn = a.Conn
	if j.conn == nil {
		j.conn = &looseConn{resp: &j.response}
	}

	j.released = false
	j.timedOut = false
	j.abandoned = false
	j.trail = j.trail[:0]
	j.headers = make(http.Header)
	j.method = ""
	j.client = Client{}
	j.protocol, j.host, j.port, j.path = "", "", 0, ""
	j.resetParams()
	j.invalidateQuery()

	parent := context.Background()
	if a.Request != nil {
		parent = a.Request.Context()
	}
	j.ctx, j.cancel = context.WithCancelCause(parent)

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	j.SetTimeout(int(timeout / time.Millisecond))

	if r := a.Request; r != nil {
		j.populate(r)
	}

	h := j.response.Header()
	h.Set("X-Request-Id", j.id)
	if !j.identity.Hide {
		h.Set("X-Powered-By", j.identity.Powered)
		h.Set("Server", j.identity.Title)
	}

	j.conn.SetJob(j)
}

func (j *Job) populate(r *http.Request) {
	host, port, _ := strings.Cut(r.Host, ":")
	if host == "" || port == "" {
		if local, isAddr := r.Context().Value(http.LocalAddrContextKey).(net.Addr); isAddr && local != nil {
			lh, lp, err := net.SplitHostPort(local.String())
			if err == nil {
				if host == "" {
					host = lh
				}
				if port == "" {
					port = lp
				}
			}
		}
	}

	scheme := "http"
	if j.identity.Secure {
		scheme = "https"
	}
	authority := strings.ToLower(host)
	if p := leadingInt(port); p != 0 {
		authority += ":" + strconv.Itoa(p)
	}
	target := r.RequestURI
	if !strings.HasPrefix(target, "/") && r.URL != nil {
		target = r.URL.RequestURI()
	}
	if err := j.SetURI(scheme + "://" + authority + target); err != nil {
		j.logger.Warn("unparseable request uri", "uri", target, "error", err)
	}

	j.SetMethod(r.Method)
	j.headers = r.Header.Clone()
	if j.headers == nil {
		j.headers = make(http.Header)
	}
	if r.Host != "" {
		j.headers.Set("Host", r.Host)
	}

	if rid := strings.TrimSpace(r.Header.Get("X-Request-Id")); rid != "" {
		j.id = rid
	}

	j.client = Client{IP: "-"}
	if ip, p, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		j.client = Client{IP: ip, Port: p}
	} else if r.RemoteAddr != "" {
		j.client.IP = r.RemoteAddr
	}
}

// Release is the pool hook finalizing the exchange: the response is completed,
// the connection back-reference cleared, the trail logged, counters updated and
// every reference dropped.
func (j *Job) Release(note string) {
	if j.released {
		return
	}
	j.released = true
	j.stopTimer()
	j.timeout = TimeoutClosed
	if note != "" {
		j.Trail(note)
	}

	if !j.abandoned {
		j.response.finish()
	}
	if j.conn != nil && j.conn.Job() == j {
		j.conn.SetJob(nil)
	}

	rec := Record{
		ID:       j.id,
		Host:     j.host,
		Status:   j.response.Status(),
		Bytes:    j.response.Bytes(),
		TimedOut: j.timedOut,
		Failed:   j.abandoned,
	}
	j.logRelease(rec)
	if j.observer != nil {
		j.observer.JobReleased(rec)
	}
	if j.cancel != nil {
		j.cancel(context.Canceled)
	}

	j.request = nil
	j.response.detach()
	j.conn = nil
	j.observer = nil
	j.finish = nil
	j.cancel = nil
	j.headers = nil
}

func (j *Job) logRelease(rec Record) {
	line := fmt.Sprintf("%s - %s:%d (%d bytes) - %s", j.client.IP, j.method, rec.Status, rec.Bytes, j.URI())
	attrs := []any{"job_id", rec.ID, "status", rec.Status, "bytes", rec.Bytes}
	if j.identity.Debug && len(j.trail) > 0 {
		attrs = append(attrs, "trail", append([]string(nil), j.trail...))
	}
	j.logger.Info(line, attrs...)
}

// Finish hands the job back to its pool with an optional trail note. The job
// must not be touched by the caller afterwards.
func (j *Job) Finish(note string) {
	if j.released {
		return
	}
	if j.finish != nil {
		j.finish(j, note)
		return
	}
	j.Release(note)
}

// Interrupt releases the job if its context has ended, choosing the timeout or
// connection failure path from the cancellation cause. It reports whether the
// job was released.
func (j *Job) Interrupt() bool {
	if j.released || j.ctx == nil || j.ctx.Err() == nil {
		return false
	}
	if errors.Is(context.Cause(j.ctx), ErrTimedOut) {
		ms := j.timeout
		j.timedOut = true
		j.response.SetStatus(http.StatusInternalServerError)
		j.Finish(fmt.Sprintf("--response timed-out: %dms--", ms))
		return true
	}
	j.abandon()
	return true
}

// Abandon releases the job because its transport failed.
func (j *Job) Abandon() {
	if j.released {
		return
	}
	j.abandon()
}

func (j *Job) abandon() {
	j.abandoned = true
	j.response.SetStatus(StatusClientClosed)
	j.Finish(NoteConnectionFailed)
}

// Routable reports whether atoms may still act on the job: it is allocated,
// routing has not been closed by the timeout sentinel, and its connection
// still references it.
func (j *Job) Routable() bool {
	return !j.released && j.timeout != TimeoutClosed && j.conn != nil && j.conn.Job() == j
}

// Released reports whether the job has been finalized.
func (j *Job) Released() bool { return j.released }

// Timeout returns the current timeout in milliseconds.
func (j *Job) Timeout() int { return j.timeout }

// SetTimeout (re)arms the deadline. Values <= 0 disarm it; TimeoutClosed also
// closes routing.
func (j *Job) SetTimeout(ms int) {
	j.stopTimer()
	j.timeout = ms
	if ms <= 0 || j.cancel == nil {
		return
	}
	cancel := j.cancel
	j.timer = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		cancel(ErrTimedOut)
	})
}

func (j *Job) stopTimer() {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

// Context is cancelled when the job times out, its client goes away, or it is released.
func (j *Job) Context() context.Context {
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}

// ID returns the job's correlation id.
func (j *Job) ID() string { return j.id }

// Identity returns the serving identity.
func (j *Job) Identity() Identity { return j.identity }

// Request returns the inbound request, nil after release.
func (j *Job) Request() *http.Request { return j.request }

// Response returns the outbound writer.
func (j *Job) Response() *Response { return &j.response }

// Conn returns the attached transport.
func (j *Job) Conn() Conn { return j.conn }

// Logger returns the job's logger.
func (j *Job) Logger() *slog.Logger {
	if j.logger == nil {
		return slog.Default()
	}
	return j.logger
}

// Method returns the uppercased request method.
func (j *Job) Method() string { return j.method }

// SetMethod sets the request method.
func (j *Job) SetMethod(v string) { j.method = strings.ToUpper(v) }

// Header returns a request header, case-insensitively.
func (j *Job) Header(name string) string { return j.headers.Get(name) }

// SetHeader sets a request header.
func (j *Job) SetHeader(name, value string) {
	if j.headers == nil {
		j.headers = make(http.Header)
	}
	j.headers.Set(name, value)
}

// Headers returns the request headers.
func (j *Job) Headers() http.Header { return j.headers }

// Client returns the remote peer.
func (j *Job) Client() Client { return j.client }

// Trail appends a diagnostic note.
func (j *Job) Trail(note string) {
	if note == "" {
		return
	}
	j.trail = append(j.trail, note)
}

// TrailEntries returns a copy of the diagnostic trail.
func (j *Job) TrailEntries() []string {
	return append([]string(nil), j.trail...)
}

// looseConn stands in for a tracked connection when the job is served outside
// a Service (tests, embedded handlers).
type looseConn struct {
	resp *Response
	job  *Job
}

func (c *looseConn) Job() *Job     { return c.job }
func (c *looseConn) SetJob(j *Job) { c.job = j }

func (c *looseConn) Close() error {
	conn, _, err := c.resp.Hijack()
	if err != nil {
		return err
	}
	return conn.Close()
}
