// Package engine wires the frame pipeline together: parse, hash, dedup,
// per-hop resolution and trace correlation, emitting result batches.
package engine

import "go.opentelemetry.io/otel"

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshtrace/pathprobe/internal/correlate"
	"github.com/meshtrace/pathprobe/internal/dedup"
	"github.com/meshtrace/pathprobe/internal/frame"
	"github.com/meshtrace/pathprobe/internal/geo"
	"github.com/meshtrace/pathprobe/internal/identity"
	"github.com/meshtrace/pathprobe/internal/logging"
	"github.com/meshtrace/pathprobe/internal/metrics"
	"github.com/meshtrace/pathprobe/internal/rate"
	"github.com/meshtrace/pathprobe/internal/repeater"
	"github.com/meshtrace/pathprobe/internal/report"
	"github.com/meshtrace/pathprobe/internal/resolve"
	"github.com/meshtrace/pathprobe/internal/source"
)

type Engine struct {
	probeID    string
	runID      string
	bot        *geo.Point
	maxAgeDays int

	dedup    dedup.Interface
	repo     repeater.Repository
	senders  repeater.SenderLocator
	resolver *resolve.Resolver
	window   *correlate.Window
	hist     *correlate.History
	ratelim  *rate.PerSender
	out      chan<- report.Batch
	log      *logging.Logger

	lastFrame atomic.Int64 // unix nanos of most recent observation
	windows   sync.WaitGroup
}

// Default trigger throttle: one correlation per sender every five seconds.
const (
	DefaultTriggerRatePerSec = 0.2
	DefaultTriggerBurst      = 1
)

func New(probeID, runID string, bot *geo.Point, maxAgeDays int, d dedup.Interface,
	repo repeater.Repository, senders repeater.SenderLocator, resolver *resolve.Resolver,
	window *correlate.Window, hist *correlate.History, ratelim *rate.PerSender,
	out chan<- report.Batch, log *logging.Logger) *Engine {
	if ratelim == nil {
		ratelim = rate.New(DefaultTriggerRatePerSec, DefaultTriggerBurst)
	}
	return &Engine{
		probeID: probeID, runID: runID, bot: bot, maxAgeDays: maxAgeDays,
		dedup: d, repo: repo, senders: senders, resolver: resolver,
		window: window, hist: hist, ratelim: ratelim, out: out, log: log,
	}
}

// LastFrameAt reports when the engine last saw an observation, for the
// pipeline health check.
func (e *Engine) LastFrameAt() time.Time {
	n := e.lastFrame.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (e *Engine) Run(ctx context.Context, obs <-chan source.Observation, workers int) {
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for o := range obs {
				e.HandleFrame(ctx, o)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	// in-flight correlation windows outlive their triggering frame
	e.windows.Wait()
}

// HandleFrame processes one observation end to end. Malformed frames are
// recorded under the sentinel digest and never resolved; retransmissions
// still feed the correlation window before dedup suppresses them.
func (e *Engine) HandleFrame(ctx context.Context, obs source.Observation) {
	tr := otel.Tracer("pathprobe/engine")
	ctx, span := tr.Start(ctx, "HandleFrame")
	defer span.End()

	at := obs.At()
	e.lastFrame.Store(at.UnixNano())

	f, err := frame.ParseHex(obs.RawHex)
	digest := identity.Sentinel
	var path []string
	switch {
	case err == nil:
		metrics.FramesTotal.WithLabelValues("ok").Inc()
		digest = identity.OfFrame(f)
		path = f.PathIDs()
	case errors.Is(err, frame.ErrEmptyPayload):
		metrics.FramesTotal.WithLabelValues("empty_payload").Inc()
	default:
		metrics.FramesTotal.WithLabelValues("truncated").Inc()
	}
	if len(path) == 0 && obs.PathString != "" {
		path = frame.ParseRoutingString(obs.PathString)
	}

	e.hist.Add(correlate.Entry{Identity: digest, Path: frame.NormalizePath(path), At: at})
	e.window.Observe(digest, path, at)

	if err != nil {
		return
	}
	if e.dedup.Seen(digest) {
		metrics.DuplicateFrames.Inc()
		return
	}

	b := report.Batch{ProbeID: e.probeID, RunID: e.runID}
	b.Resolutions = e.resolvePath(ctx, digest, path, obs, at)
	if len(b.Resolutions) > 0 {
		select {
		case e.out <- b:
		case <-ctx.Done():
			return
		}
	}

	if f.Type == frame.PayloadTrace {
		e.maybeCorrelate(ctx, digest, path, obs)
	}
}

// resolvePath runs the disambiguation resolver over every hop identifier.
func (e *Engine) resolvePath(ctx context.Context, digest string, path []string, obs source.Observation, at time.Time) []report.Resolution {
	if len(path) == 0 || e.resolver == nil {
		return nil
	}

	var sender *geo.Point
	if obs.SenderKey != "" && e.senders != nil {
		if p, ok, err := e.senders.LocationOf(ctx, obs.SenderKey); err == nil && ok {
			sender = &p
		}
	}

	out := make([]report.Resolution, 0, len(path))
	for i, id := range path {
		candidates, err := e.repo.LookupByPrefix(ctx, id, nil, e.maxAgeDays)
		if err != nil {
			e.log.Warnw("repeater lookup failed", "node_id", id, "err", err)
			continue
		}
		res := e.resolver.Resolve(ctx, id, candidates, resolve.Context{
			Path: path, Index: i, Sender: sender, Bot: e.bot,
		})
		r := report.Resolution{
			Identity: digest, NodeID: id, HopIndex: i,
			Confidence: res.Confidence, Collision: res.Collision,
			Candidates: res.Candidates, ObservedAt: at,
		}
		if res.Repeater != nil {
			r.Repeater = res.Repeater.Name
			r.PublicKey = res.Repeater.PublicKey
		}
		out = append(out, r)
	}
	return out
}

// maybeCorrelate opens a correlation window for a trace frame, rate-limited
// per sender so one chatty node can't monopolize the single slot. The wait
// for the deadline runs on its own goroutine: the worker that opened the
// window must stay free to Observe the retransmissions the window exists to
// collect.
func (e *Engine) maybeCorrelate(ctx context.Context, digest string, path []string, obs source.Observation) {
	sender := obs.SenderKey
	if sender == "" {
		sender = "unknown"
	}
	if !e.ratelim.Allow(sender) {
		e.log.Debugw("correlation rate limited", "sender", sender)
		return
	}

	openedAt := time.Now()
	if err := e.window.Open(digest, path, openedAt); err != nil {
		if errors.Is(err, correlate.ErrWindowActive) {
			e.log.Debugw("correlation slot busy", "target", digest)
		}
		return
	}

	e.windows.Add(1)
	go e.closeAfterDeadline(ctx, digest, openedAt, obs.SenderKey)
}

// closeAfterDeadline consumes the open window once its deadline passes and
// reports the collected paths.
func (e *Engine) closeAfterDeadline(ctx context.Context, digest string, openedAt time.Time, senderKey string) {
	defer e.windows.Done()

	deadline := openedAt.Add(e.window.Duration())
	timer := time.NewTimer(e.window.Duration())
	defer timer.Stop()
	var closeAt time.Time
	select {
	case <-timer.C:
		closeAt = time.Now()
	case <-ctx.Done():
		// shutting down: consume the window as if the deadline had passed,
		// its collected paths are still worth reporting
		closeAt = deadline
	}

	paths, err := e.window.Close(closeAt)
	if err != nil {
		e.log.Warnw("correlation close failed", "target", digest, "err", err)
		return
	}

	b := report.Batch{ProbeID: e.probeID, RunID: e.runID}
	b.Correlations = append(b.Correlations, report.Correlation{
		Identity: digest, Paths: paths,
		OpenedAt: openedAt, ClosedAt: time.Now(),
		SenderKey: senderKey,
	})
	select {
	case e.out <- b:
	default:
		e.log.Warnw("report channel full, dropping correlation", "target", digest)
	}
}
