package slave

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/KBJarvis/pachi/internal/coordinator"
)

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return line
}

func firstFieldID(t *testing.T, line string) uint32 {
	t.Helper()
	fields := strings.Fields(line)
	if len(fields) == 0 {
		t.Fatalf("unexpected line with no id field: %q", line)
	}
	// command lines from the log look like "<10-digit-id> <word> ...\n"
	n, err := strconv.ParseUint(strings.TrimLeft(fields[0], "="), 10, 32)
	if err != nil {
		t.Fatalf("id field did not parse: %q: %v", line, err)
	}
	return uint32(n)
}

func TestWorkerHandshakeAndFirstCommand(t *testing.T) {
	state := coordinator.NewState(256, 4, false, nil, nil)
	state.Lock()
	state.AppendCommandLocked("boardsize", "19", true)
	state.Unlock()

	clientConn, serverConn := net.Pipe()
	worker := NewWorker(state, 0, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Serve(serverConn) }()

	clientR := bufio.NewReader(clientConn)

	if got := readLine(t, clientR); got != "name\n" {
		t.Fatalf("expected identity query, got %q", got)
	}
	fmt.Fprint(clientConn, "= pachi v12\n\n")

	cmdLine := readLine(t, clientR)
	if !strings.Contains(cmdLine, "boardsize 19") {
		t.Fatalf("expected boardsize broadcast, got %q", cmdLine)
	}
	id := firstFieldID(t, cmdLine)

	fmt.Fprintf(clientConn, "=%d ok\n\n", id)

	time.Sleep(20 * time.Millisecond)
	state.Lock()
	replies := state.ReplySnapshotLocked()
	state.Unlock()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply recorded, got %d", len(replies))
	}

	// An idle worker waits for the next command and only notices the
	// closed connection when it writes that command.
	clientConn.Close()
	state.Lock()
	state.AppendCommandLocked("clear_board", "", false)
	state.Unlock()
	<-done
}

func TestWorkerReadsMultiLineReply(t *testing.T) {
	state := coordinator.NewState(256, 4, false, nil, nil)
	state.Lock()
	state.AppendCommandLocked("pachi-genmoves", "b 5", true)
	state.Unlock()

	clientConn, serverConn := net.Pipe()
	worker := NewWorker(state, 0, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Serve(serverConn) }()

	clientR := bufio.NewReader(clientConn)
	readLine(t, clientR) // "name\n"
	fmt.Fprint(clientConn, "= Pachi\n\n")

	cmdLine := readLine(t, clientR)
	id := firstFieldID(t, cmdLine)

	// A real pachi-genmoves reply is a header line followed by one line
	// per candidate move, terminated by a blank line.
	fmt.Fprintf(clientConn, "=%d 1200 4\nD4 300 0.51\nQ16 250 0.49\n\n", id)

	time.Sleep(20 * time.Millisecond)
	state.Lock()
	replies := state.ReplySnapshotLocked()
	state.Unlock()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply recorded, got %d", len(replies))
	}
	if !strings.Contains(replies[0], "D4 300 0.51") || !strings.Contains(replies[0], "Q16 250 0.49") {
		t.Fatalf("expected both move lines folded into the reply, got %q", replies[0])
	}

	// An idle worker waits for the next command and only notices the
	// closed connection when it writes that command.
	clientConn.Close()
	state.Lock()
	state.AppendCommandLocked("clear_board", "", false)
	state.Unlock()
	<-done
}

func TestWorkerRejectsHandshakeWithoutBlankTerminator(t *testing.T) {
	state := coordinator.NewState(256, 4, false, nil, nil)
	clientConn, serverConn := net.Pipe()
	worker := NewWorker(state, 0, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Serve(serverConn) }()

	clientR := bufio.NewReader(clientConn)
	readLine(t, clientR) // "name\n"
	fmt.Fprint(clientConn, "= Pachi\n")
	clientConn.Close()

	if err := <-done; err == nil {
		t.Fatalf("expected handshake to fail without a blank-line terminator")
	}
}

func TestWorkerResyncsOnIDMismatch(t *testing.T) {
	state := coordinator.NewState(256, 4, false, nil, nil)
	state.Lock()
	state.AppendCommandLocked("boardsize", "19", true)
	state.Unlock()

	clientConn, serverConn := net.Pipe()
	worker := NewWorker(state, 0, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Serve(serverConn) }()

	clientR := bufio.NewReader(clientConn)
	readLine(t, clientR) // "name\n"
	fmt.Fprint(clientConn, "= Pachi\n\n")

	readLine(t, clientR) // boardsize broadcast
	fmt.Fprint(clientConn, "=9999999999 stale ack\n\n")

	// After a mismatched id, the worker should resend full history
	// (still just the one boardsize command at this point).
	resent := readLine(t, clientR)
	if !strings.Contains(resent, "boardsize 19") {
		t.Fatalf("expected full-history resend containing boardsize, got %q", resent)
	}
	id := firstFieldID(t, resent)
	fmt.Fprintf(clientConn, "=%d ok\n\n", id)

	time.Sleep(20 * time.Millisecond)
	state.Lock()
	replies := state.ReplySnapshotLocked()
	state.Unlock()
	if len(replies) != 1 {
		t.Fatalf("expected the recovered reply to be recorded, got %d", len(replies))
	}

	// An idle worker waits for the next command and only notices the
	// closed connection when it writes that command.
	clientConn.Close()
	state.Lock()
	state.AppendCommandLocked("clear_board", "", false)
	state.Unlock()
	<-done
}
