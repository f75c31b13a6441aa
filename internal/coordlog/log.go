package coordlog

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// gameStartWords are the commands that start a fresh game and therefore
// reset the log rather than appending onto the previous game's tail.
var gameStartWords = map[string]bool{
	"boardsize":   true,
	"clear_board": true,
}

// IsGameStart reports whether word (a command name; the game-start words
// are the same before and after the Coordinator's renaming) should reset
// the log instead of extending it.
func IsGameStart(word string) bool {
	return gameStartWords[word]
}

// Log is the master's append-only transcript of every command issued to
// slaves during the current game. It is not internally synchronized: all
// callers are expected to hold the coordination mutex described in
// spec.md §5 for the duration of every method call.
type Log struct {
	buf      []byte
	hasTail  bool
	tailOff  int
	tailLen  int
	lastID   uint32
	ordinal  uint32
	rng      *rand.Rand
}

// NewLog creates an empty log with the given initial buffer capacity. The
// buffer grows past capacity like any Go slice; capacity is only a sizing
// hint to avoid early reallocation for a typical game length.
func NewLog(capacityHint int) *Log {
	return &Log{
		buf: make([]byte, 0, capacityHint),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Reset clears the log for a new game, as if it had just been created.
func (l *Log) Reset() {
	l.buf = l.buf[:0]
	l.hasTail = false
	l.tailOff = 0
	l.tailLen = 0
	l.lastID = 0
	l.ordinal = 0
}

// Empty reports whether any command has ever been appended since the log
// was created or last Reset.
func (l *Log) Empty() bool {
	return !l.hasTail
}

// nextID produces a fresh id that mixes a pseudo-random nonce into the move
// ordinal, rerolling the nonce on the vanishingly unlikely event that the
// result collides with the immediately preceding id.
func (l *Log) nextID() uint32 {
	for {
		nonce := l.rng.Uint32()
		candidate := ForceReply((l.ordinal ^ nonce) & ordinalMask)
		if candidate != l.lastID {
			return candidate
		}
	}
}

// Append rewrites the current tail's id to clear its reply-required bit,
// then appends word/args as the new tail command under a freshly minted id.
// It returns that id.
func (l *Log) Append(word, args string) uint32 {
	if l.hasTail {
		l.rewriteTailID(PreventReply(l.lastID))
	}

	id := l.nextID()
	l.lastID = id
	l.ordinal++

	var line string
	if args == "" {
		line = fmt.Sprintf("%0*d %s\n", idWidth, id, word)
	} else {
		line = fmt.Sprintf("%0*d %s %s\n", idWidth, id, word, args)
	}

	l.tailOff = len(l.buf)
	l.tailLen = len(line)
	l.hasTail = true
	l.buf = append(l.buf, line...)
	return id
}

// rewriteTailID overwrites the id field of the current tail command
// in-place. Because every id is always formatted at the fixed idWidth, the
// new value occupies exactly the same bytes as the old one, so no other
// command's offset in the buffer moves.
func (l *Log) rewriteTailID(id uint32) {
	field := fmt.Sprintf("%0*d", idWidth, id)
	copy(l.buf[l.tailOff:l.tailOff+idWidth], field)
}

// TailID returns the id of the current tail command. It is zero if the log
// is empty.
func (l *Log) TailID() uint32 {
	return l.lastID
}

// BroadcastPayload returns the bytes of just the current tail command,
// i.e. what a synced slave (one that already has every earlier command)
// needs to catch up.
func (l *Log) BroadcastPayload() []byte {
	if !l.hasTail {
		return nil
	}
	out := make([]byte, l.tailLen)
	copy(out, l.buf[l.tailOff:l.tailOff+l.tailLen])
	return out
}

// FullHistory returns every command issued so far this game, in order. It
// is what a desynced slave is resent in full.
func (l *Log) FullHistory() []byte {
	out := make([]byte, len(l.buf))
	copy(out, l.buf)
	return out
}

// String renders the log for debugging; it is not used on any protocol
// path.
func (l *Log) String() string {
	var b strings.Builder
	b.Write(l.buf)
	return b.String()
}
