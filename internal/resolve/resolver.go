// Package resolve picks the physical repeater behind an ambiguous 2-char
// node identifier. The 1-byte identifier space collides constantly on a
// busy mesh; the resolver combines recency decay, geographic proximity to a
// reference point and operator trust pins into one repeatable decision.
package resolve

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/meshtrace/pathprobe/internal/geo"
	"github.com/meshtrace/pathprobe/internal/logging"
	"github.com/meshtrace/pathprobe/internal/metrics"
	"github.com/meshtrace/pathprobe/internal/repeater"
)

const (
	// recencyDecayHours tunes exp(-hours/12): ~0.92 at 1h, ~0.37 at 12h,
	// ~0.02 at 48h. Mesh nodes advertise often; staleness strongly implies
	// the device moved, was replaced, or is off-air.
	recencyDecayHours = 12.0

	// minRecencyScore drops candidates not heard for ~55 hours.
	minRecencyScore = 0.01

	// noTimestampRecency scores devices with no parseable timestamp at all.
	noTimestampRecency = 0.1

	// distanceNormKM maps distance onto [0,1]: anything past 1000 km scores
	// zero proximity.
	distanceNormKM = 1000.0
)

// Config holds the scoring tunables. The ratio cutoffs and bias defaults
// are empirical carry-overs from field operation, not protocol constants;
// recalibrate against real mesh telemetry before trusting them further.
type Config struct {
	RecencyWeight float64 // [0,1]; proximity weight is its complement
	StarBias      float64 // >= 1, multiplies combined score of starred devices
	MaxRangeKM    float64 // 0 disables range filtering
}

// DefaultConfig mirrors the deployed defaults.
func DefaultConfig() Config {
	return Config{RecencyWeight: 0.4, StarBias: 2.5, MaxRangeKM: 200}
}

func (c Config) validate() error {
	if c.RecencyWeight < 0 || c.RecencyWeight > 1 {
		return fmt.Errorf("recency weight %v outside [0,1]", c.RecencyWeight)
	}
	if c.StarBias < 1 {
		return fmt.Errorf("star bias %v must be >= 1", c.StarBias)
	}
	if c.MaxRangeKM < 0 {
		return fmt.Errorf("max range %v must be >= 0", c.MaxRangeKM)
	}
	return nil
}

// Context carries the per-message evidence available for one lookup.
type Context struct {
	Path   []string   // full ordered hop list, lower-case 2-hex-char ids
	Index  int        // position of the identifier being resolved; -1 if unknown
	Sender *geo.Point // advertised sender location, if any
	Bot    *geo.Point // the bot's own fixed location, if configured
}

func (c Context) indexed() bool {
	return c.Index >= 0 && c.Index < len(c.Path)
}

// Result is produced fresh per lookup; recency scoring is time-dependent so
// results are never cached.
type Result struct {
	Repeater   *repeater.Record
	Confidence float64
	Collision  bool
	Candidates int
}

// Resolver is stateless between calls and safe for concurrent use.
type Resolver struct {
	cfg  Config
	repo repeater.Repository // neighbor-hop location lookups; may be nil
	log  *logging.Logger
}

func New(cfg Config, repo repeater.Repository, log *logging.Logger) (*Resolver, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("resolver config: %w", err)
	}
	return &Resolver{cfg: cfg, repo: repo, log: log}, nil
}

type scored struct {
	rec      repeater.Record
	recency  float64
	combined float64
}

// Resolve selects the most likely physical device for nodeID among
// candidates. The resolver always returns its best guess; whether the
// confidence clears an acceptance threshold is the caller's decision.
func (r *Resolver) Resolve(ctx context.Context, nodeID string, candidates []repeater.Record, pc Context) Result {
	now := time.Now()

	recent := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s := recencyScore(c, now)
		if s >= minRecencyScore {
			recent = append(recent, scored{rec: c, recency: s})
		}
	}

	switch len(recent) {
	case 0:
		// no recent device known for this identifier
		metrics.ResolutionsTotal.WithLabelValues("none").Inc()
		return Result{}
	case 1:
		// nothing to disambiguate, so no ambiguity should be implied
		metrics.ResolutionsTotal.WithLabelValues("resolved").Inc()
		rec := recent[0].rec
		return Result{Repeater: &rec, Confidence: 1.0, Candidates: 1}
	}

	ref, ok := r.referenceFor(ctx, nodeID, pc)
	if !ok {
		metrics.ResolutionsTotal.WithLabelValues("collision").Inc()
		return Result{Collision: true, Candidates: len(recent)}
	}

	survivors := r.score(recent, ref)
	if survivors == nil {
		// candidates exist but none carries a coordinate
		metrics.ResolutionsTotal.WithLabelValues("collision").Inc()
		return Result{Collision: true, Candidates: len(recent)}
	}
	if len(survivors) == 0 {
		// every located candidate is implausibly far; distinct from ambiguous
		metrics.ResolutionsTotal.WithLabelValues("out_of_range").Inc()
		return Result{Candidates: len(recent)}
	}

	sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].combined > survivors[j].combined })

	if len(survivors) == 1 {
		metrics.ResolutionsTotal.WithLabelValues("resolved").Inc()
		rec := survivors[0].rec
		return Result{Repeater: &rec, Confidence: confidenceFromScore(survivors[0].combined), Candidates: len(recent)}
	}

	best, second := survivors[0], survivors[1]
	ratio := 1.0
	if second.combined > 0 {
		ratio = best.combined / second.combined
	}

	var selected scored
	var confidence float64
	switch {
	case ratio > 1.5:
		selected, confidence = best, 0.9
	case ratio > 1.2:
		selected, confidence = best, 0.8
	case ratio > 1.1:
		selected, confidence = best, 0.7
	default:
		selected, confidence = breakTie(survivors, best.combined), 0.5
	}

	metrics.ResolutionsTotal.WithLabelValues("resolved").Inc()
	if r.log != nil {
		r.log.Debugw("resolved node identifier",
			"node_id", nodeID, "name", selected.rec.Name,
			"confidence", confidence, "candidates", len(recent), "ratio", ratio)
	}
	rec := selected.rec
	return Result{Repeater: &rec, Confidence: confidence, Candidates: len(recent)}
}

// referenceSet describes where to measure proximity from and how to weigh
// it against recency for this lookup.
type referenceSet struct {
	dual       bool
	a, b       geo.Point // single: a only; dual: previous and next hop
	recencyW   float64
	proximityW float64
}

// referenceFor implements the reference-point precedence: the first hop is
// judged by who it received from and the last hop by delivering to the bot
// (both proximity-only); interior hops by their neighbors; no context falls
// back to the bot with configured weights.
func (r *Resolver) referenceFor(ctx context.Context, nodeID string, pc Context) (referenceSet, bool) {
	cfgW := referenceSet{recencyW: r.cfg.RecencyWeight, proximityW: 1 - r.cfg.RecencyWeight}

	if pc.indexed() {
		if pc.Index == 0 && pc.Sender != nil && !pc.Sender.Hidden() {
			return referenceSet{a: *pc.Sender, recencyW: 0, proximityW: 1}, true
		}
		if pc.Index == len(pc.Path)-1 && pc.Bot != nil {
			return referenceSet{a: *pc.Bot, recencyW: 0, proximityW: 1}, true
		}
		if r.repo != nil {
			var prev, next *geo.Point
			if pc.Index > 0 {
				prev = r.neighborLocation(ctx, pc.Path[pc.Index-1])
			}
			if pc.Index < len(pc.Path)-1 {
				next = r.neighborLocation(ctx, pc.Path[pc.Index+1])
			}
			switch {
			case prev != nil && next != nil:
				ref := cfgW
				ref.dual = true
				ref.a, ref.b = *prev, *next
				return ref, true
			case prev != nil:
				ref := cfgW
				ref.a = *prev
				return ref, true
			case next != nil:
				ref := cfgW
				ref.a = *next
				return ref, true
			}
		}
	}

	if pc.Bot != nil {
		ref := cfgW
		ref.a = *pc.Bot
		return ref, true
	}
	return referenceSet{}, false
}

// neighborLocation is a simple best-single lookup, never disambiguating,
// so resolving one hop can't recurse into resolving its neighbors.
func (r *Resolver) neighborLocation(ctx context.Context, nodeID string) *geo.Point {
	p, ok, err := r.repo.LookupLocation(ctx, nodeID)
	if err != nil {
		if r.log != nil {
			r.log.Debugw("neighbor location lookup failed", "node_id", nodeID, "err", err)
		}
		return nil
	}
	if !ok {
		return nil
	}
	return &p
}

// score computes combined scores for every located candidate within range.
// It returns nil (as opposed to empty) when no candidate had a coordinate
// at all.
func (r *Resolver) score(recent []scored, ref referenceSet) []scored {
	located := false
	out := make([]scored, 0, len(recent))
	for _, c := range recent {
		if !c.rec.HasLocation() {
			continue
		}
		located = true

		var dist float64
		if ref.dual {
			d1 := geo.Distance(ref.a, c.rec.Location)
			d2 := geo.Distance(ref.b, c.rec.Location)
			if r.cfg.MaxRangeKM > 0 && (d1 > r.cfg.MaxRangeKM || d2 > r.cfg.MaxRangeKM) {
				continue
			}
			dist = (d1 + d2) / 2
		} else {
			dist = geo.Distance(ref.a, c.rec.Location)
			if r.cfg.MaxRangeKM > 0 && dist > r.cfg.MaxRangeKM {
				continue
			}
		}

		proximity := 1 - math.Min(dist/distanceNormKM, 1)
		c.combined = c.recency*ref.recencyW + proximity*ref.proximityW
		if c.rec.Starred {
			c.combined *= r.cfg.StarBias
		}
		out = append(out, c)
	}
	if !located {
		return nil
	}
	return out
}

// breakTie resolves near-ties deterministically: active devices first, then
// most recently heard, then highest advert count, then name. The tied set
// is grouped by combined score (the same 1.1 band that routed us here), not
// raw distance.
func breakTie(survivors []scored, bestScore float64) scored {
	var tied []scored
	for _, s := range survivors {
		if s.combined*1.1 >= bestScore {
			tied = append(tied, s)
		}
	}

	sort.SliceStable(tied, func(i, j int) bool {
		a, b := tied[i].rec, tied[j].rec
		if a.Active != b.Active {
			return a.Active
		}
		at, bt := a.MostRecent(), b.MostRecent()
		if !at.Equal(bt) {
			return at.After(bt)
		}
		if a.AdvertCount != b.AdvertCount {
			return a.AdvertCount > b.AdvertCount
		}
		return a.Name < b.Name
	})
	return tied[0]
}

func recencyScore(r repeater.Record, now time.Time) float64 {
	recent := r.MostRecent()
	if recent.IsZero() {
		return noTimestampRecency
	}
	hours := now.Sub(recent).Hours()
	s := math.Exp(-hours / recencyDecayHours)
	return math.Max(0, math.Min(1, s))
}

func confidenceFromScore(combined float64) float64 {
	// star bias can push combined past 1.0; keep confidence a probability
	return math.Min(0.4+0.5*combined, 1.0)
}
