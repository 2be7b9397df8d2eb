package repeater

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/meshtrace/pathprobe/internal/circuitbreaker"
	"github.com/meshtrace/pathprobe/internal/geo"
)

// Redis reads the repeater store the radio gateway maintains:
//
//	repeater:idx:<id2>    SET of public keys sharing the 2-char identifier
//	repeater:<pubkey>     HASH of device fields, timestamps RFC3339
//
// Neighbor-location answers are cached in a short-lived LRU because path
// resolution hits the same adjacent hops for every identifier in a path.
// All calls run through a circuit breaker so a dead Redis degrades lookups
// instead of stalling frame processing.
type Redis struct {
	cli  *redis.Client
	locs *expirable.LRU[string, geo.Point]
	brk  *circuitbreaker.Breaker
}

func NewRedis(addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Redis{
		cli:  cli,
		locs: expirable.NewLRU[string, geo.Point](1024, nil, 5*time.Minute),
		brk:  circuitbreaker.New(5, 0.6, 30*time.Second),
	}, nil
}

// Ping exposes connectivity for health checks.
func (s *Redis) Ping(ctx context.Context) error {
	return s.cli.Ping(ctx).Err()
}

func (s *Redis) LookupByPrefix(ctx context.Context, nodeID string, roles []Role, maxAgeDays int) ([]Record, error) {
	prefix := strings.ToLower(nodeID)
	now := time.Now()

	var out []Record
	err := s.brk.Execute(func() error {
		keys, err := s.cli.SMembers(ctx, "repeater:idx:"+prefix).Result()
		if err != nil {
			return err
		}
		for _, pk := range keys {
			fields, err := s.cli.HGetAll(ctx, "repeater:"+strings.ToLower(pk)).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				continue
			}
			r := recordFromHash(pk, fields)
			if !roleMatch(r.Role, roles) || !withinAge(r, maxAgeDays, now) {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Redis) LookupLocation(ctx context.Context, nodeID string) (geo.Point, bool, error) {
	key := strings.ToLower(nodeID)
	if p, ok := s.locs.Get(key); ok {
		return p, true, nil
	}
	recs, err := s.LookupByPrefix(ctx, key, nil, 0)
	if err != nil {
		return geo.Point{}, false, err
	}
	p, ok, err := bestLocation(recs)
	if ok {
		s.locs.Add(key, p)
	}
	return p, ok, err
}

func (s *Redis) LocationOf(ctx context.Context, publicKey string) (geo.Point, bool, error) {
	var r Record
	var found bool
	err := s.brk.Execute(func() error {
		fields, err := s.cli.HGetAll(ctx, "repeater:"+strings.ToLower(publicKey)).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		r = recordFromHash(publicKey, fields)
		found = true
		return nil
	})
	if err != nil || !found || !r.HasLocation() {
		return geo.Point{}, false, err
	}
	return r.Location, true, nil
}

func recordFromHash(publicKey string, fields map[string]string) Record {
	r := Record{
		PublicKey: strings.ToLower(publicKey),
		Name:      fields["name"],
		Role:      Role(fields["role"]),
	}
	if r.Role == "" {
		r.Role = RoleOther
	}
	r.Location.Lat, _ = strconv.ParseFloat(fields["lat"], 64)
	r.Location.Lon, _ = strconv.ParseFloat(fields["lon"], 64)
	r.AdvertCount, _ = strconv.Atoi(fields["advert_count"])
	r.Active = fields["active"] == "1"
	r.Starred = fields["starred"] == "1"
	// unparseable timestamps stay zero; the resolver scores those as stale
	r.LastHeard = parseTime(fields["last_heard"])
	r.LastAdvert = parseTime(fields["last_advert"])
	r.LastSeen = parseTime(fields["last_seen"])
	return r
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
