package coordinator

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestState() *State {
	return NewState(256, 8, false, nil, nil)
}

func TestAwaitQuorumReturnsAtFullQuorum(t *testing.T) {
	s := newTestState()
	s.Lock()
	s.IncActiveLocked()
	s.IncActiveLocked()
	s.Unlock()

	done := make(chan struct{})
	go func() {
		s.Lock()
		s.AwaitQuorumLocked(time.Time{})
		s.Unlock()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Lock()
	s.AppendReplyLocked("=1 ok")
	s.AppendReplyLocked("=1 ok")
	s.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("await_quorum did not return once every active slave replied")
	}
}

func TestAwaitQuorumGracePeriodAtMajority(t *testing.T) {
	s := newTestState()
	s.Lock()
	s.IncActiveLocked()
	s.IncActiveLocked()
	s.IncActiveLocked()
	s.Unlock()

	start := time.Now()
	done := make(chan struct{})
	go func() {
		s.Lock()
		s.AwaitQuorumLocked(time.Time{})
		s.Unlock()
		close(done)
	}()

	// Only a bare majority (2 of 3) ever replies; await_quorum should
	// return after the grace period rather than blocking forever.
	time.Sleep(10 * time.Millisecond)
	s.Lock()
	s.AppendReplyLocked("=1 ok")
	s.AppendReplyLocked("=1 ok")
	s.Unlock()

	select {
	case <-done:
		if elapsed := time.Since(start); elapsed < gracePeriod {
			t.Fatalf("await_quorum returned before the grace period elapsed: %v", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("await_quorum blocked past the grace period")
	}
}

func TestAwaitQuorumNeverReturnsWithZeroReplies(t *testing.T) {
	s := newTestState()
	s.Lock()
	s.IncActiveLocked()
	s.Unlock()

	deadline := time.Now().Add(20 * time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(1)
	returned := make(chan struct{})
	go func() {
		defer wg.Done()
		s.Lock()
		s.AwaitQuorumLocked(deadline)
		s.Unlock()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatalf("await_quorum must not return with zero replies even past its deadline")
	case <-time.After(100 * time.Millisecond):
	}

	s.Lock()
	s.AppendReplyLocked("=1 ok")
	s.Unlock()
	wg.Wait()
}

func TestAwaitQuorumBlocksWithZeroActiveSlaves(t *testing.T) {
	s := newTestState()

	var wg sync.WaitGroup
	wg.Add(1)
	returned := make(chan struct{})
	go func() {
		defer wg.Done()
		s.Lock()
		s.AwaitQuorumLocked(time.Time{})
		s.Unlock()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatalf("await_quorum must block until a slave arrives and replies, not return with none connected")
	case <-time.After(100 * time.Millisecond):
	}

	s.Lock()
	s.IncActiveLocked()
	s.AppendReplyLocked("=1 ok")
	s.Unlock()
	wg.Wait()
}

func TestNotifyTranslatesFinalScoreToFinalStatusList(t *testing.T) {
	s := newTestState()
	c := New(s, nil, nil)

	s.Lock()
	s.IncActiveLocked()
	s.Unlock()

	if pass := c.Notify("final_score", ""); pass {
		t.Fatalf("final_score must not pass through")
	}

	s.Lock()
	defer s.Unlock()
	if s.LogEmpty() {
		t.Fatalf("expected final_score to append a command to the log")
	}
	if payload := string(s.BroadcastPayload()); !strings.Contains(payload, "final_status_list") {
		t.Fatalf("expected final_score to be broadcast as final_status_list, got %q", payload)
	}
}

func TestNotifyBroadcastsAndGenMoveAggregates(t *testing.T) {
	s := newTestState()
	c := New(s, nil, nil)

	s.Lock()
	s.IncActiveLocked()
	s.IncActiveLocked()
	s.Unlock()

	// clear_board is an ordinary broadcast, so Notify waits for quorum:
	// answer it on behalf of both slaves once it is in the log.
	cleared := make(chan bool, 1)
	go func() { cleared <- c.Notify("clear_board", "") }()
	for {
		s.Lock()
		if !s.LogEmpty() {
			s.AppendReplyLocked("=1 ok")
			s.AppendReplyLocked("=1 ok")
			s.Unlock()
			break
		}
		s.Unlock()
		time.Sleep(time.Millisecond)
	}
	if pass := <-cleared; pass {
		t.Fatalf("clear_board must not pass through")
	}
	if pass := c.Notify("genmove", "B"); pass {
		t.Fatalf("genmove must not pass through")
	}

	s.Lock()
	if got := s.PendingColorLocked(); got != "B" {
		t.Fatalf("expected pending color B, got %q", got)
	}
	s.AppendReplyLocked("=1 1000 4\nD4 1000 0.6\n")
	s.AppendReplyLocked("=1 1000 4\nD4 1000 0.6\n")
	s.Unlock()

	color, coord, err := c.GenMove(time.Time{})
	if err != nil {
		t.Fatalf("GenMove returned error: %v", err)
	}
	if color != "B" || coord != "D4" {
		t.Fatalf("expected B D4, got %s %s", color, coord)
	}
}

func TestNotifyQuitPassesThroughWhenSlavesQuitFalse(t *testing.T) {
	s := NewState(64, 4, false, nil, nil)
	c := New(s, nil, nil)
	if pass := c.Notify("quit", ""); !pass {
		t.Fatalf("quit should pass through when slaves_quit is false")
	}
}

func TestNotifyQuitBroadcastsWhenSlavesQuitTrue(t *testing.T) {
	s := NewState(64, 4, true, nil, nil)
	c := New(s, nil, nil)
	// A broadcast quit waits for quorum like any ordinary command, so
	// answer it once it is in the log.
	passed := make(chan bool, 1)
	go func() { passed <- c.Notify("quit", "") }()
	for {
		s.Lock()
		if !s.LogEmpty() {
			s.AppendReplyLocked("=1 ok")
			s.Unlock()
			break
		}
		s.Unlock()
		time.Sleep(time.Millisecond)
	}
	if pass := <-passed; pass {
		t.Fatalf("quit should broadcast, not pass through, when slaves_quit is true")
	}
}

func TestChatWinrateNormalizesForWhite(t *testing.T) {
	s := newTestState()
	c := New(s, nil, nil)
	s.Lock()
	s.RecordDecisionLocked("W", "Q16", 0.3)
	s.Unlock()

	msg, err := c.Chat("winrate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(msg, "70.0%") {
		t.Fatalf("expected White's win probability 1-0.3 = 70.0%%, got %q", msg)
	}
}
