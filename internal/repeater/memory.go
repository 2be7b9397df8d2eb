package repeater

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meshtrace/pathprobe/internal/geo"
)

// Memory is an in-process store, used for tests and single-binary runs
// without Redis.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record // keyed by lower-case public key
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Put inserts or replaces a record.
func (m *Memory) Put(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[strings.ToLower(r.PublicKey)] = r
}

func (m *Memory) LookupByPrefix(_ context.Context, nodeID string, roles []Role, maxAgeDays int) ([]Record, error) {
	prefix := strings.ToLower(nodeID)
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for key, r := range m.records {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !roleMatch(r.Role, roles) || !withinAge(r, maxAgeDays, now) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MostRecent().After(out[j].MostRecent()) })
	return out, nil
}

func (m *Memory) LookupLocation(ctx context.Context, nodeID string) (geo.Point, bool, error) {
	recs, err := m.LookupByPrefix(ctx, nodeID, nil, 0)
	if err != nil {
		return geo.Point{}, false, err
	}
	return bestLocation(recs)
}

func (m *Memory) LocationOf(_ context.Context, publicKey string) (geo.Point, bool, error) {
	m.mu.RLock()
	r, ok := m.records[strings.ToLower(publicKey)]
	m.mu.RUnlock()
	if !ok || !r.HasLocation() {
		return geo.Point{}, false, nil
	}
	return r.Location, true, nil
}

// bestLocation picks the "best single" coordinate for a node identifier:
// starred devices outrank everything, then the most recently heard located
// device wins.
func bestLocation(recs []Record) (geo.Point, bool, error) {
	var best *Record
	for i := range recs {
		r := &recs[i]
		if !r.HasLocation() {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if r.Starred != best.Starred {
			if r.Starred {
				best = r
			}
			continue
		}
		if r.MostRecent().After(best.MostRecent()) {
			best = r
		}
	}
	if best == nil {
		return geo.Point{}, false, nil
	}
	return best.Location, true, nil
}
