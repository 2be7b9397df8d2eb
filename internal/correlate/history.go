package correlate

import (
	"sync"
	"time"
)

// Entry is one frame observation retained for backward scanning: identity
// digest, normalized path and arrival time. Frames with no extractable path
// (direct delivery) are still recorded with an empty path.
type Entry struct {
	Identity string
	Path     string
	At       time.Time
}

const defaultHistorySize = 256

// History is a fixed-capacity ring of recent frame observations. Frames can
// land in the pipeline moments before a window logically opens; the ring
// lets the window pick those up instead of losing the race.
type History struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

func (h *History) Add(e Entry) {
	h.mu.Lock()
	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
	h.mu.Unlock()
}

// Snapshot returns the retained entries, oldest first.
func (h *History) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		out := make([]Entry, h.next)
		copy(out, h.entries[:h.next])
		return out
	}
	out := make([]Entry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}
