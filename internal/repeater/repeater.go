// Package repeater models the known physical repeater fleet and the narrow
// collaborator interfaces the resolution engine reads it through. The store
// is populated externally (by the radio gateway); the engine only reads
// snapshots.
package repeater

import (
	"context"
	"strings"
	"time"

	"github.com/meshtrace/pathprobe/internal/geo"
)

type Role string

const (
	RoleRepeater   Role = "repeater"
	RoleRoomServer Role = "roomserver"
	RoleOther      Role = "other"
)

// DefaultRoles are the roles that participate in routing.
var DefaultRoles = []Role{RoleRepeater, RoleRoomServer}

// Record is a snapshot of one known physical device. The first 2 hex
// characters of PublicKey are the 1-byte node identifier used in routing
// strings; they are NOT unique across the fleet.
type Record struct {
	PublicKey   string
	Name        string
	Location    geo.Point // Hidden() when unknown or operator-hidden
	LastHeard   time.Time
	LastAdvert  time.Time
	LastSeen    time.Time
	AdvertCount int
	Active      bool
	Starred     bool // operator-pinned trust flag
	Role        Role
}

// NodeID returns the 2-hex-char routing identifier, lower-cased.
func (r Record) NodeID() string {
	if len(r.PublicKey) < 2 {
		return ""
	}
	return strings.ToLower(r.PublicKey[:2])
}

// HasLocation reports whether the record carries a usable coordinate.
func (r Record) HasLocation() bool { return !r.Location.Hidden() }

// MostRecent returns the newest of the three liveness timestamps, or the
// zero time when none is known.
func (r Record) MostRecent() time.Time {
	t := r.LastHeard
	if r.LastAdvert.After(t) {
		t = r.LastAdvert
	}
	if r.LastSeen.After(t) {
		t = r.LastSeen
	}
	return t
}

// Repository is the read-only view of the repeater store.
type Repository interface {
	// LookupByPrefix returns all records whose public key starts with the
	// 2-hex-char node identifier, filtered to the given roles (nil means
	// DefaultRoles) and to devices heard within maxAgeDays (0 disables).
	LookupByPrefix(ctx context.Context, nodeID string, roles []Role, maxAgeDays int) ([]Record, error)

	// LookupLocation returns the single best-guess location for a node
	// identifier: starred devices first, then most recently heard. It is
	// deliberately non-disambiguating and never recursive; it exists so
	// neighbor-hop references can be resolved without unbounded recursion.
	LookupLocation(ctx context.Context, nodeID string) (geo.Point, bool, error)
}

// SenderLocator resolves the advertised location of an arbitrary sender by
// full public key.
type SenderLocator interface {
	LocationOf(ctx context.Context, publicKey string) (geo.Point, bool, error)
}

func roleMatch(r Role, roles []Role) bool {
	if roles == nil {
		roles = DefaultRoles
	}
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func withinAge(r Record, maxAgeDays int, now time.Time) bool {
	if maxAgeDays <= 0 {
		return true
	}
	recent := r.MostRecent()
	if recent.IsZero() {
		return false
	}
	return now.Sub(recent) <= time.Duration(maxAgeDays)*24*time.Hour
}
