// Package rate throttles correlation triggers per sender. Any node can key
// a trace flood; without a per-sender cap one chatty client could keep the
// single correlation slot permanently occupied.
package rate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type PerSender struct {
	mu         sync.Mutex
	m          map[string]*limitEntry
	perSecond  float64
	burst      int
	maxEntries int
}

type limitEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func New(perSecond float64, burst int) *PerSender {
	ps := &PerSender{
		m:          make(map[string]*limitEntry),
		perSecond:  perSecond,
		burst:      burst,
		maxEntries: 4096, // sender key space is small; cap growth anyway
	}
	go ps.cleanup()
	return ps
}

func (p *PerSender) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if len(p.m) > p.maxEntries {
			cutoff := time.Now().Add(-1 * time.Hour)
			for sender, entry := range p.m {
				if entry.lastUsed.Before(cutoff) {
					delete(p.m, sender)
				}
			}
		}
		p.mu.Unlock()
	}
}

func (p *PerSender) Allow(sender string) bool {
	return p.entry(sender).Allow()
}

func (p *PerSender) entry(sender string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[sender]
	if !ok {
		e = &limitEntry{limiter: rate.NewLimiter(rate.Limit(p.perSecond), p.burst)}
		p.m[sender] = e
	}
	e.lastUsed = time.Now()
	return e.limiter
}
