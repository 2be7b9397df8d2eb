// Package identity computes the content-derived digest that names a logical
// mesh message across all of its physical retransmissions. The digest must
// match the one the repeater firmware computes bit-for-bit; the input is
// exactly payload type, path length (TRACE only) and payload bytes. Route
// type and transport codes vary per retransmission and are never hashed.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/meshtrace/pathprobe/internal/frame"
)

// Sentinel is the digest assigned to frames that cannot be parsed. It is a
// valid, matchable value: garbage frames are routine on an RF medium and
// must not abort processing.
const Sentinel = "0000000000000000"

// digestLen is the number of leading SHA-256 bytes kept (16 hex chars).
const digestLen = 8

// OfFrame returns the identity digest of a parsed frame.
func OfFrame(f frame.Frame) string {
	return compute(f.Type, f.PathLen, f.Payload)
}

// Of parses raw frame bytes and returns their identity digest, or Sentinel
// if the frame is malformed.
func Of(raw []byte) string {
	f, err := frame.Parse(raw)
	if err != nil {
		return Sentinel
	}
	return OfFrame(f)
}

// OfHex is Of for a hex-encoded frame.
func OfHex(s string) string {
	f, err := frame.ParseHex(s)
	if err != nil {
		return Sentinel
	}
	return OfFrame(f)
}

// OfFrameWithType hashes a parsed frame under a caller-supplied payload type
// (masked to 4 bits), for gateways that carry the type out-of-band.
func OfFrameWithType(f frame.Frame, ptype frame.PayloadType) string {
	return compute(ptype, f.PathLen, f.Payload)
}

func compute(ptype frame.PayloadType, pathLen byte, payload []byte) string {
	h := sha256.New()
	h.Write([]byte{byte(ptype) & 0x0F})
	if ptype == frame.PayloadTrace {
		// firmware mixes the path length into TRACE hashes so each recorded
		// hop produces a distinct identity; u16 little-endian by contract
		var le [2]byte
		binary.LittleEndian.PutUint16(le[:], uint16(pathLen))
		h.Write(le[:])
	}
	h.Write(payload)
	sum := h.Sum(nil)
	return strings.ToUpper(hex.EncodeToString(sum[:digestLen]))
}
