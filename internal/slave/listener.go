package slave

import (
	"net"
	"sync"
	"time"

	"github.com/KBJarvis/pachi/internal/coordinator"
	"github.com/KBJarvis/pachi/internal/semaphore"
)

// Listener pre-creates up to max_slaves worker slots, each looping
// Accept() on the same shared listening socket, so the number of
// concurrently served slave connections is bounded by construction rather
// than by tearing down connections once a limit is hit.
type Listener struct {
	ln        net.Listener
	state     *coordinator.State
	maxSlaves int
	ioTimeout time.Duration
	logf      func(string, ...interface{})

	sem     *semaphore.Semaphore
	wg      sync.WaitGroup
	closing chan struct{}
}

// NewListener wraps an already-bound net.Listener (normally a
// net.Listen("tcp", slave_port) result) with the slot pool described
// above.
func NewListener(ln net.Listener, state *coordinator.State, maxSlaves int, ioTimeout time.Duration, logf func(string, ...interface{})) *Listener {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Listener{
		ln:        ln,
		state:     state,
		maxSlaves: maxSlaves,
		ioTimeout: ioTimeout,
		logf:      logf,
		sem:       semaphore.NewSemaphore(maxSlaves),
		closing:   make(chan struct{}),
	}
}

// Serve starts the max_slaves accept-loop goroutines and returns
// immediately; it does not block.
func (l *Listener) Serve() {
	for slot := 0; slot < l.maxSlaves; slot++ {
		l.wg.Add(1)
		go l.slotLoop(slot)
	}
}

func (l *Listener) slotLoop(slot int) {
	defer l.wg.Done()
	for {
		select {
		case <-l.closing:
			return
		default:
		}

		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closing:
				return
			default:
			}
			l.logf("listener: slot %d accept error: %v", slot, err)
			continue
		}

		if err := l.sem.P(); err != nil {
			conn.Close()
			return
		}

		l.state.Lock()
		l.state.IncActiveLocked()
		l.state.Unlock()

		worker := NewWorker(l.state, l.ioTimeout, l.logf)
		if err := worker.Serve(conn); err != nil {
			l.logf("listener: slot %d worker exited: %v", slot, err)
		}

		l.state.Lock()
		l.state.DecActiveLocked()
		l.state.Unlock()
		l.sem.V()
	}
}

// Close stops accepting new connections, closes the listening socket, and
// waits for every in-flight worker to drain.
func (l *Listener) Close() error {
	close(l.closing)
	err := l.ln.Close()
	l.sem.Close()
	l.wg.Wait()
	return err
}
