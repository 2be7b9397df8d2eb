// Package correlate collects the distinct physical paths taken by duplicate
// transmissions of one logical message. A window is opened on a target
// identity digest, absorbs matching frames for a fixed interval, and yields
// the set of normalized paths observed.
package correlate

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/meshtrace/pathprobe/internal/frame"
	"github.com/meshtrace/pathprobe/internal/logging"
	"github.com/meshtrace/pathprobe/internal/metrics"
)

var (
	// ErrWindowActive means a correlation is already in flight. One window
	// at a time bot-wide; callers wait for the deadline, they don't stack.
	ErrWindowActive = errors.New("correlation window already open")

	// ErrWindowIdle is returned by Close when no window was ever opened.
	ErrWindowIdle = errors.New("no correlation window open")

	// ErrWindowStillOpen is returned by Close before the deadline passes.
	ErrWindowStillOpen = errors.New("correlation window has not expired")
)

// Window is the single correlation slot. The deadline is absolute: arriving
// matches never extend it. All state transitions run under one mutex;
// Observe is hash-compare plus a map insert, cheap enough for frame-rate
// callers.
type Window struct {
	mu       sync.Mutex
	open     bool
	target   string
	openedAt time.Time
	deadline time.Time
	paths    map[string]struct{}

	duration time.Duration
	hist     *History
	log      *logging.Logger
}

func NewWindow(duration time.Duration, hist *History, log *logging.Logger) *Window {
	if duration <= 0 {
		duration = 6 * time.Second
	}
	return &Window{duration: duration, hist: hist, log: log}
}

// Duration reports the configured window length, so callers know how long
// to wait before Close.
func (w *Window) Duration() time.Duration { return w.duration }

// Open starts a correlation for target. ownPath is the triggering frame's
// hop list; it seeds the collection so the reference transmission counts as
// one observed variant. A previous window past its deadline is discarded,
// an unexpired one rejects the open.
func (w *Window) Open(target string, ownPath []string, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.open && now.Before(w.deadline) {
		return ErrWindowActive
	}

	w.open = true
	w.target = target
	w.openedAt = now
	w.deadline = now.Add(w.duration)
	w.paths = make(map[string]struct{})
	w.addPath(ownPath)
	w.scanHistory()

	metrics.WindowsOpened.Inc()
	if w.log != nil {
		w.log.Debugw("correlation window opened", "target", target, "deadline", w.deadline)
	}
	return nil
}

// Observe offers a frame observation to the window. Outside an open window
// or past the deadline it is a no-op; a digest mismatch is counted and
// dropped; a matching frame contributes its normalized path. Direct frames
// carry no path and contribute nothing.
func (w *Window) Observe(identity string, path []string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open || now.After(w.deadline) {
		return
	}
	if identity != w.target {
		metrics.HashMismatches.Inc()
		return
	}
	w.addPath(path)
}

// Close ends the correlation and returns the collected paths sorted. It
// rescans history first, catching matches that raced the window's state.
func (w *Window) Close(now time.Time) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return nil, ErrWindowIdle
	}
	if now.Before(w.deadline) {
		return nil, ErrWindowStillOpen
	}

	w.scanHistory()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	sort.Strings(out)

	w.open = false
	w.target = ""
	w.paths = nil
	return out, nil
}

// addPath normalizes and records one hop list. Empty means direct delivery
// and is skipped, not an error.
func (w *Window) addPath(path []string) {
	if len(path) == 0 {
		return
	}
	norm := frame.NormalizePath(path)
	if norm == "" {
		return
	}
	if _, dup := w.paths[norm]; !dup {
		w.paths[norm] = struct{}{}
		metrics.PathsCollected.Inc()
	}
}

// scanHistory folds in retained observations for the target. The opened_at
// floor is hard: an older frame with a coincidentally identical digest must
// not be attributed to this correlation.
func (w *Window) scanHistory() {
	if w.hist == nil {
		return
	}
	snap := w.hist.Snapshot()
	for i := len(snap) - 1; i >= 0; i-- {
		e := snap[i]
		if e.At.Before(w.openedAt) {
			// concurrent workers can interleave gateway timestamps, so ring
			// order is not strictly time order; skip, don't stop
			continue
		}
		if e.Identity != w.target || e.Path == "" {
			continue
		}
		if _, dup := w.paths[e.Path]; !dup {
			w.paths[e.Path] = struct{}{}
			metrics.PathsCollected.Inc()
		}
	}
}
