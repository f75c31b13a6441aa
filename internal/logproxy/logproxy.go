// Package logproxy implements the passive Log Proxy: a listener that
// accepts slave connections and copies whatever they send straight to the
// master's own stderr, prefixed so an operator can tell slaves apart. It
// plays no part in coordination.
package logproxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Proxy accepts connections on a listening socket and copies each one's
// lines to an output writer, optionally rate-limited per connection. Every
// proxied line is prefixed with "< " so it can be told apart from the
// master's own log lines (which carry the standard "log" package's
// time-of-day prefix instead) by a simple regular expression.
type Proxy struct {
	ln     net.Listener
	out    io.Writer
	limit  rate.Limit // 0 disables limiting
	logf   func(string, ...interface{})
	start  time.Time
	wg     sync.WaitGroup
	closed chan struct{}
}

// New wraps an already-bound listener. linesPerSecond of zero means
// unlimited, matching spec.md's default.
func New(ln net.Listener, out io.Writer, linesPerSecond float64, logf func(string, ...interface{})) *Proxy {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Proxy{
		ln:     ln,
		out:    out,
		limit:  rate.Limit(linesPerSecond),
		logf:   logf,
		start:  time.Now(),
		closed: make(chan struct{}),
	}
}

// Serve accepts connections until Close is called. It blocks; call it in
// its own goroutine.
func (p *Proxy) Serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.closed:
				return
			default:
			}
			p.logf("logproxy: accept error: %v", err)
			return
		}
		p.wg.Add(1)
		go p.copyLines(conn)
	}
}

func (p *Proxy) copyLines(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	var limiter *rate.Limiter
	if p.limit > 0 {
		limiter = rate.NewLimiter(p.limit, 1)
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			if limiter != nil {
				limiter.Wait(context.Background())
			}
			fmt.Fprintf(p.out, "< %s +%.3fs %s", conn.RemoteAddr(), time.Since(p.start).Seconds(), line)
		}
		if err != nil {
			if err != io.EOF {
				p.logf("logproxy: read error from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// Close stops accepting new connections and waits for in-flight copies to
// drain.
func (p *Proxy) Close() error {
	close(p.closed)
	err := p.ln.Close()
	p.wg.Wait()
	return err
}
