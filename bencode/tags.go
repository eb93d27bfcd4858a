package bencode

import "strings"

// parseTag splits a struct tag like "announce,omitempty" into its dict key
// name. Decode only ever needs the name half: wireTorrent's tags carry
// "omitempty" for documentation (it mirrors which keys the wire format
// treats as optional) but decoding a missing key is already a no-op, and
// nothing in this package ever encodes a struct, so the option itself
// is never consulted.
func parseTag(tag string) (string, string) {
	if idx := strings.Index(tag, ","); idx != -1 {
		return tag[:idx], tag[idx+1:]
	}
	return tag, ""
}
