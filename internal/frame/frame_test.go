package frame

import (
	"bytes"
	"reflect"
	"testing"
)

func TestParse_HeaderFields(t *testing.T) {
	// 0x09 = route 1 (flood, no transport codes), payload type 2 (text)
	raw := []byte{0x09, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if f.Route != RouteFlood {
		t.Errorf("route = %v, want flood", f.Route)
	}
	if f.Type != PayloadTextMsg {
		t.Errorf("payload type = %d, want 2", f.Type)
	}
	if f.PathLen != 0 || len(f.Path) != 0 {
		t.Errorf("expected empty path, got len %d", f.PathLen)
	}
	if !bytes.Equal(f.Payload, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("payload = %x", f.Payload)
	}
}

func TestParse_TransportCodesSkipped(t *testing.T) {
	// route 0 (transport flood): 4 transport-code bytes follow the header
	raw := []byte{0x08, 0x11, 0x22, 0x33, 0x44, 0x02, 0xAA, 0xBB, 0x01, 0x02}
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if !f.Route.HasTransportCodes() {
		t.Fatal("route 0 should carry transport codes")
	}
	if f.PathLen != 2 || !bytes.Equal(f.Path, []byte{0xAA, 0xBB}) {
		t.Errorf("path = %x (len %d)", f.Path, f.PathLen)
	}
	if !bytes.Equal(f.Payload, []byte{0x01, 0x02}) {
		t.Errorf("payload = %x", f.Payload)
	}
}

func TestParse_Truncated(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x09},                   // header only, no path length byte
		{0x08, 0x11, 0x22},       // transport codes cut short
		{0x09, 0x05, 0xAA, 0xBB}, // path length exceeds remaining bytes
	}
	for _, raw := range cases {
		if _, err := Parse(raw); err != ErrTruncated {
			t.Errorf("Parse(%x) err = %v, want ErrTruncated", raw, err)
		}
	}
}

func TestParse_EmptyPayload(t *testing.T) {
	// well-formed header and path but nothing left to hash
	raw := []byte{0x09, 0x02, 0xAA, 0xBB}
	if _, err := Parse(raw); err != ErrEmptyPayload {
		t.Errorf("err = %v, want ErrEmptyPayload", err)
	}
}

func TestParseHex(t *testing.T) {
	f, err := ParseHex("09 00 de ad be ef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != PayloadTextMsg {
		t.Errorf("payload type = %d, want 2", f.Type)
	}
	if _, err := ParseHex("not hex"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestPathIDs(t *testing.T) {
	f := Frame{Path: []byte{0x01, 0x7E, 0xFF}}
	got := f.PathIDs()
	want := []string{"01", "7e", "ff"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PathIDs = %v, want %v", got, want)
	}
	if ids := (Frame{}).PathIDs(); ids != nil {
		t.Errorf("empty path should yield nil, got %v", ids)
	}
}

func TestParseRoutingString(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"01,7e,55,86 (4 hops) via ROUTE_TYPE_FLOOD", []string{"01", "7e", "55", "86"}},
		{"01,7E,55", []string{"01", "7e", "55"}},
		{"a1 b2:c3", []string{"a1", "b2", "c3"}},
		{"Direct (0 hops)", nil},
		{"0 hops", nil},
		{"", nil},
		{"zz,01,xy", []string{"01"}},
	}
	for _, tc := range cases {
		got := ParseRoutingString(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseRoutingString(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	if got := NormalizePath([]string{"01", "7E", "FF"}); got != "01,7e,ff" {
		t.Errorf("NormalizePath = %q", got)
	}
	if got := NormalizePath(nil); got != "" {
		t.Errorf("NormalizePath(nil) = %q, want empty", got)
	}
}
