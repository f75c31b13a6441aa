// Package gtpio is a minimal line-buffered GTP adapter: it reads commands
// from an upstream GTP client (normally stdin) and drives a Coordinator,
// writing back GTP-shaped replies (normally to stdout). It is deliberately
// thin — a real upstream id/argument parser, board state, and the rest of
// the GTP command set are out of scope — just enough plumbing exists here
// to make the binary runnable end-to-end against a real GTP client.
package gtpio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/KBJarvis/pachi/internal/coordinator"
)

// Adapter reads GTP commands from in and writes replies to out, driving
// coord for each one.
type Adapter struct {
	coord      *coordinator.Coordinator
	in         *bufio.Scanner
	out        io.Writer
	genmoveDur time.Duration
	logf       func(string, ...interface{})
}

// New creates an Adapter. genmoveDeadline bounds how long GenMove will
// wait for quorum on a genmove-family command; zero means no deadline.
func New(coord *coordinator.Coordinator, in io.Reader, out io.Writer, genmoveDeadline time.Duration, logf func(string, ...interface{})) *Adapter {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Adapter{
		coord:      coord,
		in:         bufio.NewScanner(in),
		out:        out,
		genmoveDur: genmoveDeadline,
		logf:       logf,
	}
}

// Run reads and answers commands until EOF, a quit command, or a scan
// error.
func (a *Adapter) Run() error {
	for a.in.Scan() {
		line := strings.TrimSpace(a.in.Text())
		if line == "" {
			continue
		}

		upstreamID, cmd, args := parseLine(line)
		reply, quit := a.dispatch(cmd, args)
		a.writeReply(upstreamID, reply)
		if quit {
			return nil
		}
	}
	return a.in.Err()
}

// parseLine splits one input line into an optional leading upstream id,
// the command word, and the remaining arguments.
func parseLine(line string) (id string, cmd string, args string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", ""
	}
	if _, err := strconv.Atoi(fields[0]); err == nil && len(fields) > 1 {
		id = fields[0]
		fields = fields[1:]
	}
	cmd = fields[0]
	args = strings.Join(fields[1:], " ")
	return id, cmd, args
}

func (a *Adapter) dispatch(cmd, args string) (reply string, quit bool) {
	switch cmd {
	case "genmove", "kgs-genmove_cleanup":
		a.coord.Notify(cmd, args)
		var deadline time.Time
		if a.genmoveDur > 0 {
			deadline = time.Now().Add(a.genmoveDur)
		}
		_, coord, err := a.coord.GenMove(deadline)
		if err != nil {
			return err.Error(), false
		}
		return coord, false

	case "final_score":
		a.coord.Notify(cmd, args)
		groups, err := a.coord.DeadGroupList()
		if err != nil {
			return err.Error(), false
		}
		return strings.Join(groups, " "), false

	case "kgs-chat":
		fields := strings.Fields(args)
		kind := ""
		if len(fields) > 0 {
			kind = fields[0]
		}
		msg, err := a.coord.Chat(kind)
		if err != nil {
			return err.Error(), false
		}
		return msg, false

	case "quit":
		a.coord.Notify(cmd, args) // broadcasts to slaves first when slaves_quit is set
		return "", true

	default:
		a.coord.Notify(cmd, args)
		return "", false
	}
}

func (a *Adapter) writeReply(upstreamID, body string) {
	if upstreamID != "" {
		fmt.Fprintf(a.out, "=%s %s\n\n", upstreamID, body)
		return
	}
	fmt.Fprintf(a.out, "= %s\n\n", body)
}
