// Package loopguard detects runaway tool-call repetition by keeping a
// bounded history of recent invocations and flagging consecutive
// identical calls ("doom loops").
package loopguard

import (
	"reflect"
	"time"
)

const (
	// HistoryCapacity is the number of recent tool calls retained.
	HistoryCapacity = 10

	// RepeatThreshold is the number of consecutive identical calls
	// that counts as a doom loop.
	RepeatThreshold = 3
)

// Record is an immutable snapshot of one tool invocation.
type Record struct {
	Tool      string
	Input     any
	Timestamp time.Time
}

// Guard keeps a fixed-capacity FIFO of recent tool invocations.
//
// Guard is not safe for concurrent use. The stream processor owns
// exactly one Guard per session and serializes access to it.
type Guard struct {
	history []Record
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{history: make([]Record, 0, HistoryCapacity)}
}

// RecordCall appends a record for the given tool and parsed input,
// evicting the oldest record once the history is at capacity.
func (g *Guard) RecordCall(tool string, input any) {
	if len(g.history) >= HistoryCapacity {
		copy(g.history, g.history[1:])
		g.history = g.history[:len(g.history)-1]
	}
	g.history = append(g.history, Record{
		Tool:      tool,
		Input:     input,
		Timestamp: time.Now(),
	})
}

// IsDoomLoop reports whether the most recent RepeatThreshold records all
// carry the given tool name and a structurally equal input. With fewer
// than RepeatThreshold records it always returns false.
//
// Input equality is deep equality over the parsed value, not string
// equality, so whitespace or key-order changes in the raw JSON do not
// defeat detection. Trivial value perturbation still does; that is a
// known heuristic limit.
func (g *Guard) IsDoomLoop(tool string, input any) bool {
	if len(g.history) < RepeatThreshold {
		return false
	}
	for i := 0; i < RepeatThreshold; i++ {
		rec := g.history[len(g.history)-1-i]
		if rec.Tool != tool || !reflect.DeepEqual(rec.Input, input) {
			return false
		}
	}
	return true
}

// Reset drops all history. A retried attempt starts with a clean window.
func (g *Guard) Reset() {
	g.history = g.history[:0]
}

// Len returns the number of retained records.
func (g *Guard) Len() int {
	return len(g.history)
}

// History returns a copy of the retained records, oldest first.
func (g *Guard) History() []Record {
	out := make([]Record, len(g.history))
	copy(out, g.history)
	return out
}
