package httpapi

import (
	"sync"
	"time"

	"github.com/you/emojilens/internal/core"
)

// Activity is one finished interpretation attempt, kept in memory only for
// diagnostics. Nothing here survives a restart.
type Activity struct {
	Platform string        `json:"platform"`
	Context  string        `json:"context"`
	Mode     string        `json:"mode"`
	Outcome  string        `json:"outcome"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration_ns"`
	Snippet  string        `json:"snippet"`
	At       time.Time     `json:"at"`
}

const snippetLen = 32

func activity(req core.InterpretRequest, mode, outcome string, chunks int, dur time.Duration) Activity {
	snippet := req.Message
	if runes := []rune(snippet); len(runes) > snippetLen {
		snippet = string(runes[:snippetLen]) + "…"
	}
	return Activity{
		Platform: string(req.Platform),
		Context:  string(req.Context),
		Mode:     mode,
		Outcome:  outcome,
		Chunks:   chunks,
		Duration: dur,
		Snippet:  snippet,
		At:       time.Now().UTC(),
	}
}

// recentLog is a fixed-capacity ring of the latest activities, newest first
// in snapshots.
type recentLog struct {
	mu      sync.Mutex
	cap     int
	entries []Activity
	next    int
	full    bool
}

func newRecentLog(capacity int) *recentLog {
	if capacity <= 0 {
		capacity = 64
	}
	return &recentLog{cap: capacity, entries: make([]Activity, capacity)}
}

func (l *recentLog) Add(a Activity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = a
	l.next++
	if l.next == l.cap {
		l.next = 0
		l.full = true
	}
}

func (l *recentLog) Snapshot() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = l.cap
	}
	out := make([]Activity, 0, size)
	for i := 0; i < size; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += l.cap
		}
		out = append(out, l.entries[idx])
	}
	return out
}
