// Copyright (C) 2025 sage-x-project
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import "bytes"

// encodePing renders a {key, nonce} pair as the payload the Medic sends
// along a session's ping_route. The well-known echo service at the far end
// is expected to copy the payload straight back along the return route, so
// the wire format only needs to round-trip, not to be self-describing.
func encodePing(key, nonce string) []byte {
	out := make([]byte, 0, len(key)+len(nonce)+1)
	out = append(out, []byte(key)...)
	out = append(out, 0)
	out = append(out, []byte(nonce)...)
	return out
}

// decodePing parses a payload previously produced by encodePing.
func decodePing(b []byte) (key, nonce string, ok bool) {
	parts := bytes.SplitN(b, []byte{0}, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return string(parts[0]), string(parts[1]), true
}
