// Package portal implements layer L5: a paired TCP inlet/outlet that
// tunnels an arbitrary byte stream across a multi-hop Ockam route,
// chunking it into PortalMessage frames so it can cross a secure channel
// like any other routed payload.
package portal

import (
	"strings"
	"sync"

	"github.com/build-trust/ockam-go/wire"
)

// DefaultMaxPayloadSize bounds how large a single PortalMessage::Payload
// frame may be; larger writes are split across multiple frames.
const DefaultMaxPayloadSize = 64 * 1024

// routeKey renders a route as a stable map key. Route is a slice and so
// not itself comparable; sessions are looked up by this string instead.
func routeKey(r wire.Route) string {
	var b strings.Builder
	for i, a := range r {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteByte(byte(a.Type))
		b.WriteByte(':')
		b.WriteString(a.Value)
	}
	return b.String()
}

// disconnectState is the shared "disconnect_received" flag spec §4.5
// requires: both the read loop and the paired worker can observe and
// trigger it, and only the first trigger has any effect.
type disconnectState struct {
	mu   sync.Mutex
	done bool
}

// trigger marks the flag set and reports whether this call was the one
// that set it -- the caller tears down local resources only on true.
func (d *disconnectState) trigger() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return false
	}
	d.done = true
	return true
}

func (d *disconnectState) isSet() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
