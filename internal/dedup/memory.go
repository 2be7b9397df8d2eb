// Package dedup suppresses reprocessing of retransmitted frames keyed by
// identity digest. The mesh floods every message; without this each
// retransmission would trigger a full path resolution.
package dedup

import "sync"

// Interface is satisfied by the memory and Redis implementations.
type Interface interface {
	Seen(key string) bool
}

type Memory struct{ m sync.Map }

func NewMemory() *Memory { return &Memory{} }

func (d *Memory) Seen(key string) bool {
	_, ok := d.m.LoadOrStore(key, struct{}{})
	return ok
}
