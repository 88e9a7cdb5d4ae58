// Package wire implements the BARE-compatible binary encoding used for
// Ockam routed messages: Address, Route, TransportMessage and the
// PortalMessage framing carried inside a portal's payload.
package wire

import "fmt"

// TransportType identifies the kind of endpoint an Address refers to.
// Zero denotes a local worker address; non-zero values are transport
// specific (TCP, UDP, ...).
type TransportType uint8

const (
	TransportLocal TransportType = 0
	TransportTCP   TransportType = 1
	TransportUDP   TransportType = 2
	TransportWS    TransportType = 3
)

func (t TransportType) String() string {
	switch t {
	case TransportLocal:
		return "local"
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	case TransportWS:
		return "ws"
	default:
		return fmt.Sprintf("transport(%d)", uint8(t))
	}
}

// Address is an opaque, typed endpoint name. Routing only ever consults
// the leading hop's Type; Value is otherwise opaque bytes (a local
// worker name, or "host:port" for TCP/UDP/WS hops).
type Address struct {
	Type  TransportType
	Value string
}

// NewLocalAddress builds a local (transport_type = 0) worker address.
func NewLocalAddress(value string) Address {
	return Address{Type: TransportLocal, Value: value}
}

func (a Address) IsLocal() bool {
	return a.Type == TransportLocal
}

func (a Address) String() string {
	if a.Type == TransportLocal {
		return a.Value
	}
	return fmt.Sprintf("%s://%s", a.Type, a.Value)
}

func (a Address) Equal(other Address) bool {
	return a.Type == other.Type && a.Value == other.Value
}
