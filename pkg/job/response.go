package job

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"github.com/polisai/atomws/pkg/domain"
)

// Response wraps the job's http.ResponseWriter. It suppresses superfluous
// WriteHeader calls, records status and body size, and refuses writes once the
// job has been released.
type Response struct {
	w           http.ResponseWriter
	header      http.Header
	status      int
	wroteHeader bool
	hijacked    bool
	bytes       int64
}

func (r *Response) reset(w http.ResponseWriter) {
	r.w = w
	r.header = nil
	r.status = http.StatusOK
	r.wroteHeader = false
	r.hijacked = false
	r.bytes = 0
}

func (r *Response) detach() {
	r.w = nil
	r.header = nil
}

// Header returns the outbound header map. After release it returns a throwaway map.
func (r *Response) Header() http.Header {
	if r.w == nil {
		if r.header == nil {
			r.header = make(http.Header)
		}
		return r.header
	}
	return r.w.Header()
}

// WriteHeader sends the status line once; later calls are ignored.
func (r *Response) WriteHeader(code int) {
	if r.w == nil || r.wroteHeader || r.hijacked {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.w.WriteHeader(code)
}

func (r *Response) Write(b []byte) (int, error) {
	if r.w == nil {
		return 0, domain.ErrJobReleased
	}
	if r.hijacked {
		return 0, http.ErrHijacked
	}
	if !r.wroteHeader {
		r.WriteHeader(r.status)
	}
	n, err := r.w.Write(b)
	r.bytes += int64(n)
	return n, err
}

// SetStatus changes the status that will be sent if headers are not out yet.
func (r *Response) SetStatus(code int) {
	if !r.wroteHeader {
		r.status = code
	}
}

// Status returns the sent (or pending) status code.
func (r *Response) Status() int { return r.status }

// Written reports whether the status line has been sent.
func (r *Response) Written() bool { return r.wroteHeader }

// Bytes returns the body bytes written so far.
func (r *Response) Bytes() int64 { return r.bytes }

// Flush implements http.Flusher.
func (r *Response) Flush() {
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for atoms that take over the connection.
func (r *Response) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		r.hijacked = true
	}
	return conn, rw, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *Response) Unwrap() http.ResponseWriter { return r.w }

func (r *Response) finish() {
	if r.w == nil || r.hijacked {
		return
	}
	if !r.wroteHeader {
		r.WriteHeader(r.status)
	}
}
