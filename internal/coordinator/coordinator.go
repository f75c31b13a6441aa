package coordinator

import (
	"fmt"
	"time"

	"github.com/KBJarvis/pachi/internal/aggregator"
	"github.com/KBJarvis/pachi/internal/coordlog"
	"github.com/KBJarvis/pachi/internal/metrics"
)

// localOnly commands are never broadcast to slaves; they are answered by
// the local engine instance (or, for kgs-chat, by Chat) without touching
// the Command Log at all.
var localOnly = map[string]bool{
	"uct_genbook":  true,
	"uct_dumpbook": true,
	"kgs-chat":     true,
}

// translate maps an upstream GTP command name onto the name actually
// broadcast to slaves, for the handful of commands Pachi's distributed
// engine renames so slave engines can special-case them.
func translate(cmd string) string {
	switch cmd {
	case "genmove":
		return "pachi-genmoves"
	case "kgs-genmove_cleanup":
		return "pachi-genmoves_cleanup"
	case "final_score":
		return "final_status_list"
	default:
		return cmd
	}
}

func isGenmoveFamily(broadcastWord string) bool {
	return broadcastWord == "pachi-genmoves" || broadcastWord == "pachi-genmoves_cleanup"
}

// Coordinator is the master's upstream-facing API. It owns no network
// connections of its own: Slave Worker and Listener read and write the
// same *State concurrently.
type Coordinator struct {
	state   *State
	metrics *metrics.Metrics
	logf    func(string, ...interface{})
}

// New creates a Coordinator driving the given shared state.
func New(state *State, m *metrics.Metrics, logf func(string, ...interface{})) *Coordinator {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Coordinator{state: state, metrics: m, logf: logf}
}

// Notify handles every upstream GTP command except genmove-family and
// final_score's own result retrieval, which callers must follow up with
// GenMove/DeadGroupList. It reports passThrough=true when cmd should be
// answered locally instead of broadcast (quit when slaves_quit is false,
// and the handful of engine-local commands).
func (c *Coordinator) Notify(cmd, args string) (passThrough bool) {
	if cmd == "quit" && !c.state.SlavesQuit() {
		return true
	}
	if localOnly[cmd] {
		return true
	}

	broadcastWord := translate(cmd)
	s := c.state

	s.Lock()
	reset := s.LogEmpty() || coordlog.IsGameStart(cmd)
	s.AppendCommandLocked(broadcastWord, args, reset)
	if isGenmoveFamily(broadcastWord) {
		s.SetPendingColorLocked(args)
		// The caller retrieves the move via GenMove; do not block here.
		s.Unlock()
		return false
	}
	if broadcastWord == "final_status_list" {
		// The caller retrieves the vote via DeadGroupList.
		s.Unlock()
		return false
	}
	start := time.Now()
	s.AwaitQuorumLocked(time.Time{})
	c.metrics.ObserveQuorum(broadcastWord, s.ReplyCountLocked(), time.Since(start))
	s.Unlock()
	return false
}

// GenMove waits for quorum on the most recently notified genmove-family
// command, aggregates the replies into one move, appends the resulting
// play command to the log so every slave learns the chosen move, and
// returns it. deadline is the absolute wall-clock time genmove must answer
// by; the zero time.Time means no deadline.
func (c *Coordinator) GenMove(deadline time.Time) (color, coord string, err error) {
	s := c.state

	s.Lock()
	color = s.PendingColorLocked()
	start := time.Now()
	s.AwaitQuorumLocked(deadline)
	replies := s.ReplySnapshotLocked()
	c.metrics.ObserveQuorum("genmove", len(replies), time.Since(start))
	s.Unlock()

	if len(replies) == 0 {
		return color, "", fmt.Errorf("coordinator: no slave replies for genmove")
	}

	result := aggregator.AggregateMoves(replies)

	s.Lock()
	s.RecordDecisionLocked(color, result.Move, result.Value)
	s.AppendCommandLocked("play", color+" "+result.Move, false)
	s.Unlock()

	return color, result.Move, nil
}

// DeadGroupList waits for quorum on the most recently notified final_score
// command and returns the plurality-voted list of dead group
// representatives.
func (c *Coordinator) DeadGroupList() ([]string, error) {
	s := c.state

	s.Lock()
	start := time.Now()
	s.AwaitQuorumLocked(time.Time{})
	replies := s.ReplySnapshotLocked()
	c.metrics.ObserveQuorum("final_status_list", len(replies), time.Since(start))
	s.Unlock()

	if len(replies) == 0 {
		return nil, fmt.Errorf("coordinator: no slave replies for final_score")
	}
	return aggregator.AggregateDeadGroups(replies), nil
}

// Chat answers kgs-chat style queries about the master's own state. Only
// "winrate" is implemented; any other kind returns an error, since
// anything richer is out of scope.
func (c *Coordinator) Chat(kind string) (string, error) {
	if kind != "winrate" {
		return "", fmt.Errorf("coordinator: unsupported chat kind %q", kind)
	}

	s := c.state
	s.Lock()
	active := s.ActiveSlavesLocked()
	color, coord, value := s.LastDecisionLocked()
	s.Unlock()

	if coord == "" {
		return "no move played yet", nil
	}

	winProb := value
	if color == "W" || color == "white" {
		winProb = 1 - value
	}
	return fmt.Sprintf("%s's %s wins %.1f%% (%d slaves)", color, coord, winProb*100, active), nil
}
