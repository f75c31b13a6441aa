// Package coordinator implements the master's upstream-facing API
// (Notify, GenMove, DeadGroupList, Chat) and the shared coordination state
// that the Slave Worker and Listener operate on.
package coordinator

import (
	"sync"
	"time"

	"github.com/KBJarvis/pachi/internal/coordlog"
	"github.com/KBJarvis/pachi/internal/metrics"
	"github.com/KBJarvis/pachi/internal/replybuf"
)

// gracePeriod is added to the effective deadline once at least half of the
// active slaves have replied, giving slower slaves a last chance to weigh
// in before await_quorum gives up on them.
const gracePeriod = 500 * time.Millisecond

// State is the single coordination object spec.md §5 calls for: one mutex
// with two associated condition variables guarding the Command Log, the
// Reply Buffer, and the active-slave bookkeeping. It is constructed once
// per master instance and shared by every Slave Worker and the
// Coordinator itself.
//
// Methods whose name ends in "Locked", and the accessors TailID, LogEmpty,
// BroadcastPayload and FullHistory, assume the caller already holds the
// mutex; SlavesQuit and IncResyncs need no lock. The "Locked" methods exist
// so multi-step sequences (rewrite-then-broadcast)
// happen atomically instead of racing another goroutine between two
// separately-locked calls.
type State struct {
	mu         sync.Mutex
	cmdAvail   sync.Cond
	replyAvail sync.Cond

	log     *coordlog.Log
	replies *replybuf.Buffer

	activeSlaves int
	slavesQuit   bool

	// pendingColor is the color argument captured off the most recent
	// genmove-family Notify, consumed by the next GenMove call.
	pendingColor string

	// lastColor/lastCoord/lastValue record the most recent genmove
	// decision, reported back to upstream via Chat("winrate").
	lastColor string
	lastCoord string
	lastValue float64

	metrics *metrics.Metrics
	logf    func(string, ...interface{})
}

// NewState creates the shared coordination state. logCapacityHint sizes the
// Command Log's initial buffer; maxReplies bounds the Reply Buffer and is
// normally max_slaves. logf may be nil, in which case logging is a no-op.
func NewState(logCapacityHint, maxReplies int, slavesQuit bool, m *metrics.Metrics, logf func(string, ...interface{})) *State {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	s := &State{
		log:        coordlog.NewLog(logCapacityHint),
		replies:    replybuf.New(maxReplies),
		slavesQuit: slavesQuit,
		metrics:    m,
		logf:       logf,
	}
	s.cmdAvail.L = &s.mu
	s.replyAvail.L = &s.mu
	return s
}

// Lock acquires the coordination mutex.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the coordination mutex.
func (s *State) Unlock() { s.mu.Unlock() }

// TailID returns the id of the current tail command. Caller must hold the
// lock.
func (s *State) TailID() uint32 { return s.log.TailID() }

// LogEmpty reports whether any command has been issued this game. Caller
// must hold the lock.
func (s *State) LogEmpty() bool { return s.log.Empty() }

// BroadcastPayload returns the bytes of just the tail command. Caller must
// hold the lock.
func (s *State) BroadcastPayload() []byte { return s.log.BroadcastPayload() }

// FullHistory returns every command issued so far this game. Caller must
// hold the lock.
func (s *State) FullHistory() []byte { return s.log.FullHistory() }

// SlavesQuit reports the configured slaves_quit policy. Safe to call
// without the lock; the value never changes after construction.
func (s *State) SlavesQuit() bool { return s.slavesQuit }

// AppendCommandLocked resets the log first if reset is true, appends
// word/args as the new tail command, clears the Reply Buffer, and wakes
// every Slave Worker waiting on a new command. Caller must hold the lock.
func (s *State) AppendCommandLocked(word, args string, reset bool) uint32 {
	if reset {
		s.log.Reset()
	}
	id := s.log.Append(word, args)
	s.replies.Reset()
	s.cmdAvail.Broadcast()
	return id
}

// WaitForCommandLocked blocks until a new command is appended. Caller must
// hold the lock; it is released while waiting and reacquired before
// return, per sync.Cond's usual contract.
func (s *State) WaitForCommandLocked() { s.cmdAvail.Wait() }

// AppendReplyLocked records a slave's reply for the current tail command
// and wakes anyone waiting inside await_quorum. Caller must hold the lock.
func (s *State) AppendReplyLocked(reply string) {
	s.replies.Append(reply)
	s.replyAvail.Signal()
}

// ReplySnapshotLocked copies out the replies accumulated so far. Caller
// must hold the lock.
func (s *State) ReplySnapshotLocked() []string { return s.replies.Snapshot() }

// ReplyCountLocked reports how many replies are in hand. Caller must hold
// the lock.
func (s *State) ReplyCountLocked() int { return s.replies.Count() }

// IncActiveLocked records a newly accepted slave connection. Caller must
// hold the lock.
func (s *State) IncActiveLocked() {
	s.activeSlaves++
	s.metrics.SetActiveSlaves(s.activeSlaves)
}

// DecActiveLocked records a slave connection that has gone away. Caller
// must hold the lock.
func (s *State) DecActiveLocked() {
	s.activeSlaves--
	s.metrics.SetActiveSlaves(s.activeSlaves)
}

// ActiveSlavesLocked reports the current active-slave count. Caller must
// hold the lock.
func (s *State) ActiveSlavesLocked() int { return s.activeSlaves }

// IncResyncs counts a slave falling out of sync. Safe to call without the
// lock.
func (s *State) IncResyncs() {
	s.metrics.IncResyncs()
}

// SetPendingColorLocked records the color argument of the genmove-family
// command that was just appended, consumed by the next GenMove call.
// Caller must hold the lock.
func (s *State) SetPendingColorLocked(color string) { s.pendingColor = color }

// PendingColorLocked returns the color recorded by SetPendingColorLocked.
// Caller must hold the lock.
func (s *State) PendingColorLocked() string { return s.pendingColor }

// RecordDecisionLocked stashes the most recent genmove decision for later
// Chat("winrate") reporting. Caller must hold the lock.
func (s *State) RecordDecisionLocked(color, coord string, value float64) {
	s.lastColor = color
	s.lastCoord = coord
	s.lastValue = value
}

// LastDecisionLocked returns the most recently recorded genmove decision.
// Caller must hold the lock.
func (s *State) LastDecisionLocked() (color, coord string, value float64) {
	return s.lastColor, s.lastCoord, s.lastValue
}

// AwaitQuorumLocked blocks until either every active slave has replied, at
// least half have replied and a short grace period has elapsed, or the
// absolute deadline (zero time.Time means "no deadline") has passed with
// at least one reply in hand. It never returns with zero replies: with no
// slave connected yet it blocks until one arrives and answers, same as it
// would for a slave that is simply slow to reply.
//
// Caller must hold the lock; it may be released and reacquired any number
// of times while waiting.
func (s *State) AwaitQuorumLocked(deadline time.Time) {
	for {
		active := s.activeSlaves
		replies := s.replies.Count()

		if replies > 0 && replies >= active {
			return
		}
		if replies > 0 && !deadline.IsZero() && !time.Now().Before(deadline) {
			return
		}
		if replies > 0 && 2*replies >= active {
			graceDeadline := time.Now().Add(gracePeriod)
			if deadline.IsZero() || graceDeadline.Before(deadline) {
				deadline = graceDeadline
			}
		}
		if replies == 0 {
			s.replyAvail.Wait()
			continue
		}
		s.waitReplyUntilLocked(deadline)
	}
}

// waitReplyUntilLocked blocks on the reply-available condition until
// either it is signaled or deadline passes. Caller must hold the lock.
func (s *State) waitReplyUntilLocked(deadline time.Time) {
	if deadline.IsZero() {
		s.replyAvail.Wait()
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.replyAvail.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.replyAvail.Wait()
}
