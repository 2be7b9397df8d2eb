package frame

import "strings"

// Routing strings arrive out-of-band from the gateway in a few shapes:
//
//	"01,7e,55,86 (4 hops) via ROUTE_TYPE_FLOOD"
//	"01,7e,55"
//	"Direct (0 hops)"
//
// ParseRoutingString extracts the ordered hop identifiers, lower-cased.
// A direct / 0-hop indication yields nil, which is a valid answer and not an
// error.
func ParseRoutingString(s string) []string {
	if s == "" || strings.Contains(s, "Direct") || strings.Contains(s, "0 hops") {
		return nil
	}
	if i := strings.Index(s, " via ROUTE_TYPE_"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "("); i >= 0 {
		s = s[:i]
	}
	var ids []string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ':' || r == ' '
	}) {
		tok = strings.TrimSpace(tok)
		if len(tok) == 2 && isHexPair(tok) {
			ids = append(ids, strings.ToLower(tok))
		}
	}
	return ids
}

// NormalizePath joins hop identifiers into the canonical lower-case,
// comma-separated form used for path set membership.
func NormalizePath(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	lower := make([]string, len(ids))
	for i, id := range ids {
		lower[i] = strings.ToLower(id)
	}
	return strings.Join(lower, ",")
}

func isHexPair(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
