// Package frame decodes raw mesh radio frames. The header layout mirrors the
// repeater firmware's packet structure exactly; this package is a consumer of
// that format, not a definer.
package frame

import (
	"encoding/hex"
	"errors"
	"strings"
)

// RouteType is the low 2 bits of the header byte.
type RouteType byte

const (
	RouteTransportFlood RouteType = 0
	RouteFlood          RouteType = 1
	RouteDirect         RouteType = 2
	RouteTransportDirect RouteType = 3
)

// HasTransportCodes reports whether 4 bytes of transport codes follow the
// header for this route type.
func (rt RouteType) HasTransportCodes() bool {
	return rt == RouteTransportFlood || rt == RouteTransportDirect
}

func (rt RouteType) String() string {
	switch rt {
	case RouteTransportFlood:
		return "transport_flood"
	case RouteFlood:
		return "flood"
	case RouteDirect:
		return "direct"
	case RouteTransportDirect:
		return "transport_direct"
	}
	return "unknown"
}

// PayloadType is bits 2-5 of the header byte.
type PayloadType byte

const (
	PayloadRequest   PayloadType = 0x00
	PayloadResponse  PayloadType = 0x01
	PayloadTextMsg   PayloadType = 0x02
	PayloadAck       PayloadType = 0x03
	PayloadAdvert    PayloadType = 0x04
	PayloadGroupText PayloadType = 0x05
	PayloadGroupData PayloadType = 0x06
	PayloadAnonReq   PayloadType = 0x07
	PayloadPath      PayloadType = 0x08
	PayloadTrace     PayloadType = 0x09
)

const transportCodesLen = 4

// Truncated or payload-less frames are classified, not failed on: callers
// hash them to the sentinel digest and keep going, since garbage frames are
// routine on an RF medium.
var (
	ErrTruncated    = errors.New("frame: truncated")
	ErrEmptyPayload = errors.New("frame: empty payload")
)

// Frame is a parsed mesh frame header plus payload. Path and Payload alias
// the input buffer; the frame is consumed and discarded, never retained.
type Frame struct {
	Header  byte
	Route   RouteType
	Type    PayloadType
	PathLen byte
	Path    []byte
	Payload []byte
}

// Parse decodes the frame header. It returns ErrTruncated or ErrEmptyPayload
// for frames that cannot carry a meaningful identity.
func Parse(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrTruncated
	}
	h := data[0]
	f := Frame{
		Header: h,
		Route:  RouteType(h & 0x03),
		Type:   PayloadType((h >> 2) & 0x0F),
	}

	off := 1
	if f.Route.HasTransportCodes() {
		off += transportCodesLen
	}
	if len(data) <= off {
		return Frame{}, ErrTruncated
	}
	f.PathLen = data[off]
	off++
	if len(data) < off+int(f.PathLen) {
		return Frame{}, ErrTruncated
	}
	f.Path = data[off : off+int(f.PathLen)]
	f.Payload = data[off+int(f.PathLen):]
	if len(f.Payload) == 0 {
		return Frame{}, ErrEmptyPayload
	}
	return f, nil
}

// ParseHex decodes a hex-encoded frame as delivered by the radio gateway.
// Whitespace is tolerated.
func ParseHex(s string) (Frame, error) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Frame{}, ErrTruncated
	}
	return Parse(raw)
}

// PathIDs returns the routing path as lower-case 2-hex-char node
// identifiers, first hop after the sender first.
func (f Frame) PathIDs() []string {
	if len(f.Path) == 0 {
		return nil
	}
	ids := make([]string, 0, len(f.Path))
	for _, b := range f.Path {
		ids = append(ids, hex.EncodeToString([]byte{b}))
	}
	return ids
}
