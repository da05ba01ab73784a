// Package conversation keeps the turn log of a single chat. The full log is
// retained for display and archiving; only a bounded suffix of it is sent
// back to the model.
package conversation

import (
	"slices"
	"sync"
)

// Window is the number of most recent turns forwarded to a chat model.
const Window = 6

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser is a turn written by the person asking.
	RoleUser Role = "user"
	// RoleAssistant is a turn produced by the model.
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in the log.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Log is an append-only turn log. The zero value is ready to use and it is
// safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

// Append adds turn to the end of the log.
func (l *Log) Append(turn Turn) {
	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
}

// Recent returns at most n of the latest turns, oldest first.
func (l *Log) Recent(n int) []Turn {
	if n <= 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := max(len(l.turns)-n, 0)
	return slices.Clone(l.turns[start:])
}

// All returns a copy of every turn, oldest first.
func (l *Log) All() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.turns)
}

// Len returns the number of turns in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Reset empties the log.
func (l *Log) Reset() {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()
}
