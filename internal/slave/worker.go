// Package slave implements the Slave Worker and Listener: the connection
// lifecycle that drives one TCP-connected slave engine through the
// fan-out/fan-in protocol against the shared coordination state.
package slave

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KBJarvis/pachi/internal/coordinator"
)

// Worker drives one accepted slave connection for its entire lifetime: a
// handshake, then a loop of wait-for-new-command / send / read-reply /
// fold-into-reply-buffer, resyncing with a full history replay whenever
// the slave's reply doesn't match what was sent.
type Worker struct {
	state     *coordinator.State
	ioTimeout time.Duration
	logf      func(string, ...interface{})
}

// NewWorker creates a Worker bound to the shared coordination state.
// ioTimeout of zero disables socket deadlines entirely, matching
// spec.md's default of blocking reads/writes.
func NewWorker(state *coordinator.State, ioTimeout time.Duration, logf func(string, ...interface{})) *Worker {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Worker{state: state, ioTimeout: ioTimeout, logf: logf}
}

// Serve runs the slave protocol against one accepted connection until the
// connection is lost, always closing conn before returning.
func (w *Worker) Serve(conn net.Conn) error {
	defer conn.Close()

	sessionID := uuid.New()
	r := bufio.NewReader(conn)

	if err := w.handshake(conn, r); err != nil {
		w.logf("worker[%s]: handshake failed: %v", sessionID, err)
		return err
	}
	w.logf("worker[%s]: slave connected", sessionID)

	var lastSentID uint32
	synced := false
	resendPending := false

	for {
		payload, expectID, err := w.nextPayload(&synced, &resendPending, lastSentID)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			continue
		}

		if err := w.setDeadline(conn); err != nil {
			return err
		}
		if _, err := conn.Write(payload); err != nil {
			return fmt.Errorf("worker[%s]: write failed: %w", sessionID, err)
		}

		reply, err := readReply(r)
		if err != nil {
			return fmt.Errorf("worker[%s]: read failed: %w", sessionID, err)
		}

		replyID, ok := parseReplyID(reply)
		if !ok || replyID != expectID {
			w.logf("worker[%s]: desync (expected id %d, got %q), scheduling full resync", sessionID, expectID, strings.TrimSpace(reply))
			resendPending = true
			synced = false
			w.state.IncResyncs()
			continue
		}

		w.state.Lock()
		w.state.AppendReplyLocked(reply)
		w.state.Unlock()

		lastSentID = expectID
		resendPending = false
		synced = true
	}
}

// nextPayload blocks until there is something new to send this slave, then
// returns it along with the tail id it is expected to ack. A zero-length
// payload means the log is still empty; the caller should just loop.
func (w *Worker) nextPayload(synced, resendPending *bool, lastSentID uint32) ([]byte, uint32, error) {
	s := w.state
	s.Lock()
	defer s.Unlock()

	for {
		if *resendPending || !*synced {
			break
		}
		if s.LogEmpty() || s.TailID() == lastSentID {
			s.WaitForCommandLocked()
			continue
		}
		break
	}

	if s.LogEmpty() {
		s.WaitForCommandLocked()
		return nil, 0, nil
	}

	expectID := s.TailID()
	if *resendPending || !*synced {
		return s.FullHistory(), expectID, nil
	}
	return s.BroadcastPayload(), expectID, nil
}

func (w *Worker) handshake(conn net.Conn, r *bufio.Reader) error {
	if err := w.setDeadline(conn); err != nil {
		return err
	}
	if _, err := conn.Write([]byte("name\n")); err != nil {
		return fmt.Errorf("sending identity query: %w", err)
	}
	reply, err := readReply(r)
	if err != nil {
		return fmt.Errorf("reading identity reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(strings.ToLower(reply), strings.ToLower("= Pachi")) {
		return fmt.Errorf("unexpected slave identity %q, want a reply beginning with \"= Pachi\"", reply)
	}
	return nil
}

// readReply reads a GTP-style reply: one or more lines terminated by a
// blank line, which is consumed but not included in the returned string.
// A connection closed before the terminating blank line is an error.
func readReply(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return sb.String(), err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return sb.String(), nil
		}
		sb.WriteString(line)
	}
}

func (w *Worker) setDeadline(conn net.Conn) error {
	if w.ioTimeout <= 0 {
		return nil
	}
	return conn.SetDeadline(time.Now().Add(w.ioTimeout))
}

func parseReplyID(line string) (uint32, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, false
	}
	tok := fields[0]
	if len(tok) < 2 || tok[0] != '=' {
		return 0, false
	}
	n, err := strconv.ParseUint(tok[1:], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
