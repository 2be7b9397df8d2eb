package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/meshtrace/pathprobe/internal/frame"
)

// Header 0x09: route 1 (flood), payload type 2, no path. The digest must be
// the first 8 bytes of SHA256(0x02 || payload), upper hex.
func TestOf_FirmwareVector(t *testing.T) {
	raw := []byte{0x09, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}

	sum := sha256.Sum256([]byte{0x02, 0xDE, 0xAD, 0xBE, 0xEF})
	want := strings.ToUpper(hex.EncodeToString(sum[:8]))

	if got := Of(raw); got != want {
		t.Errorf("Of = %s, want %s", got, want)
	}
	if got := OfHex("0900deadbeef"); got != want {
		t.Errorf("OfHex = %s, want %s", got, want)
	}
}

func TestOf_Deterministic(t *testing.T) {
	raw := []byte{0x09, 0x00, 0x01, 0x02, 0x03}
	first := Of(raw)
	for i := 0; i < 10; i++ {
		if got := Of(raw); got != first {
			t.Fatalf("digest changed between calls: %s vs %s", got, first)
		}
	}
	if len(first) != 16 {
		t.Errorf("digest length = %d, want 16", len(first))
	}
}

// Two frames differing only in route type, transport codes and path must
// hash identically: those fields vary per physical retransmission of the
// same logical message.
func TestOf_RouteIndependent(t *testing.T) {
	flood := []byte{0x09, 0x02, 0xAA, 0xBB, 0xCA, 0xFE} // route 1, 2-hop path
	transport := []byte{0x08, 0x11, 0x22, 0x33, 0x44, 0x03, 0xCC, 0xDD, 0xEE, 0xCA, 0xFE} // route 0, codes, 3-hop path

	a, b := Of(flood), Of(transport)
	if a != b {
		t.Errorf("digests differ across routes: %s vs %s", a, b)
	}
}

func TestOf_PayloadSensitive(t *testing.T) {
	a := Of([]byte{0x09, 0x00, 0xCA, 0xFE, 0x00})
	b := Of([]byte{0x09, 0x00, 0xCA, 0xFE, 0x01})
	if a == b {
		t.Error("single payload byte change should change the digest")
	}
}

// TRACE (payload type 9) mixes path length into the hash; every other type
// must ignore it.
func TestOf_TracePathLengthSensitive(t *testing.T) {
	// header 0x25: route 1, payload type 9
	trace0 := []byte{0x25, 0x00, 0xCA, 0xFE}
	trace2 := []byte{0x25, 0x02, 0xAA, 0xBB, 0xCA, 0xFE}
	if Of(trace0) == Of(trace2) {
		t.Error("TRACE digests should differ with path length")
	}

	// header 0x09: payload type 2
	text0 := []byte{0x09, 0x00, 0xCA, 0xFE}
	text2 := []byte{0x09, 0x02, 0xAA, 0xBB, 0xCA, 0xFE}
	if Of(text0) != Of(text2) {
		t.Error("non-TRACE digests should ignore path length")
	}
}

func TestOf_TraceLengthLittleEndian(t *testing.T) {
	trace := []byte{0x25, 0x01, 0xAA, 0xCA, 0xFE}
	sum := sha256.Sum256([]byte{0x09, 0x01, 0x00, 0xCA, 0xFE})
	want := strings.ToUpper(hex.EncodeToString(sum[:8]))
	if got := Of(trace); got != want {
		t.Errorf("TRACE digest = %s, want %s (u16 LE path length)", got, want)
	}
}

func TestOf_MalformedSentinel(t *testing.T) {
	cases := [][]byte{nil, {0x09}, {0x09, 0x05, 0xAA}, {0x09, 0x00}}
	for _, raw := range cases {
		if got := Of(raw); got != Sentinel {
			t.Errorf("Of(%x) = %s, want sentinel", raw, got)
		}
	}
	if got := OfHex("xx"); got != Sentinel {
		t.Errorf("OfHex(invalid) = %s, want sentinel", got)
	}
}

func TestOfFrameWithType_Masked(t *testing.T) {
	f, err := frame.Parse([]byte{0x09, 0x00, 0xCA, 0xFE})
	if err != nil {
		t.Fatal(err)
	}
	// override 0x12 masks to 0x02, matching the frame's own type
	if OfFrameWithType(f, frame.PayloadType(0x12)) != OfFrame(f) {
		t.Error("override should be masked to 4 bits")
	}
}

func BenchmarkOf(b *testing.B) {
	raw := make([]byte, 2+200)
	raw[0] = 0x09
	for i := 0; i < b.N; i++ {
		Of(raw)
	}
}
