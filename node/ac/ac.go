// Package ac provides the access control predicate library evaluated by
// the router on every delivery attempt (spec §4.2).
package ac

import "github.com/build-trust/ockam-go/wire"

// IncomingAccessControl gates whether a message may be enqueued into a
// mailbox, given the relay envelope about to be delivered.
type IncomingAccessControl interface {
	IsAuthorized(msg wire.RelayMessage) bool
}

// OutgoingAccessControl gates whether a message may leave its source
// mailbox at all, evaluated before the destination's IncomingAccessControl.
type OutgoingAccessControl interface {
	IsAuthorized(msg wire.RelayMessage) bool
}

type allowAll struct{}

func (allowAll) IsAuthorized(wire.RelayMessage) bool { return true }

// AllowAll authorizes every message.
func AllowAll() IncomingAccessControl { return allowAll{} }

// AllowAllOutgoing is the outgoing-AC mirror of AllowAll.
func AllowAllOutgoing() OutgoingAccessControl { return allowAll{} }

type denyAll struct{}

func (denyAll) IsAuthorized(wire.RelayMessage) bool { return false }

// DenyAll authorizes nothing; used for addresses that must never receive
// or originate traffic (e.g. a channel's raw transport-facing hop once a
// secure channel is layered over it).
func DenyAll() IncomingAccessControl { return denyAll{} }

// DenyAllOutgoing is the outgoing-AC mirror of DenyAll.
func DenyAllOutgoing() OutgoingAccessControl { return denyAll{} }

type allowSourceAddress struct{ addr wire.Address }

func (a allowSourceAddress) IsAuthorized(msg wire.RelayMessage) bool {
	return msg.Source.Equal(a.addr)
}

// AllowSourceAddress authorizes only messages whose source is addr.
func AllowSourceAddress(addr wire.Address) IncomingAccessControl {
	return allowSourceAddress{addr: addr}
}

type allowOnwardAddress struct{ addr wire.Address }

func (a allowOnwardAddress) IsAuthorized(msg wire.RelayMessage) bool {
	next, err := msg.Local.Transport.OnwardRoute.Next()
	if err != nil {
		return false
	}
	return next.Equal(a.addr)
}

// AllowOnwardAddress authorizes only messages whose onward route's first
// hop (after the destination's own address has been stepped off) is addr.
func AllowOnwardAddress(addr wire.Address) IncomingAccessControl {
	return allowOnwardAddress{addr: addr}
}

// identifierInfoKey is the LocalInfo key a secure channel decryptor
// attaches; kept here (rather than imported from package identity) to
// avoid an import cycle between node and identity.
const identifierInfoKey = "identity.secure_channel_identifier"

type allowOnlyIf struct {
	inner      IncomingAccessControl
	identifier string
}

func (a allowOnlyIf) IsAuthorized(msg wire.RelayMessage) bool {
	if a.inner != nil && !a.inner.IsAuthorized(msg) {
		return false
	}
	v, ok := msg.Local.Find(identifierInfoKey)
	if !ok {
		return false
	}
	peerID, ok := v.(string)
	return ok && peerID == a.identifier
}

// AllowOnlyIf combines inner (e.g. AllowAll()) with a requirement that the
// message carry a verified secure-channel identifier LocalInfo equal to
// identifier — the "AllowAll & AllowOnlyIf(identifier)" combinator of
// spec §4.2.
func AllowOnlyIf(inner IncomingAccessControl, identifier string) IncomingAccessControl {
	return allowOnlyIf{inner: inner, identifier: identifier}
}

// IdentifierInfoKey exposes the LocalInfo key AllowOnlyIf inspects, so the
// channel package can attach it under the same name.
func IdentifierInfoKey() string { return identifierInfoKey }
