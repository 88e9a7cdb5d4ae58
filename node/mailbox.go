package node

import (
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// DefaultMailboxCapacity bounds a mailbox's queue; sends beyond this
// capacity block the sender, giving the router's backpressure per spec
// §4.2 "Queues are bounded; overflow returns backpressure to the sender."
const DefaultMailboxCapacity = 128

// Mailbox binds one Address to the access control predicates evaluated on
// every message addressed to or sent from it.
type Mailbox struct {
	Address    wire.Address
	IncomingAC ac.IncomingAccessControl
	OutgoingAC ac.OutgoingAccessControl
}

// NewMailbox builds a Mailbox with the given address and access controls.
func NewMailbox(addr wire.Address, incoming ac.IncomingAccessControl, outgoing ac.OutgoingAccessControl) Mailbox {
	if incoming == nil {
		incoming = ac.AllowAll()
	}
	if outgoing == nil {
		outgoing = ac.AllowAllOutgoing()
	}
	return Mailbox{Address: addr, IncomingAC: incoming, OutgoingAC: outgoing}
}

// Mailboxes is the set of addresses a single Worker/Processor owns; Main
// is used as its identity for outbound sends.
type Mailboxes struct {
	Main       Mailbox
	Additional []Mailbox
}

// NewMailboxes builds a Mailboxes with just a Main mailbox.
func NewMailboxes(main Mailbox) Mailboxes {
	return Mailboxes{Main: main}
}

// All returns every mailbox this worker owns, main first.
func (m Mailboxes) All() []Mailbox {
	out := make([]Mailbox, 0, 1+len(m.Additional))
	out = append(out, m.Main)
	out = append(out, m.Additional...)
	return out
}
