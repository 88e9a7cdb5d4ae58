// Copyright (C) 2025 sage-x-project
//
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package session implements layer L6's Session Supervisor (the "Medic"):
// a background loop that keeps a set of routed sessions alive by pinging
// them and, once a session has failed enough consecutive pings, asking a
// caller-supplied replacer to find a new route for it.
package session

import (
	"time"

	"github.com/build-trust/ockam-go/wire"
)

// Status is a Session's current health as tracked by the Medic.
type Status string

const (
	// StatusUp means recent pings are being answered.
	StatusUp Status = "up"
	// StatusDegraded means a replacement is currently in flight; the Medic
	// leaves the session alone until the replacer call returns.
	StatusDegraded Status = "degraded"
	// StatusDown means the most recent replacement attempt failed. The
	// session remains eligible for another replacement attempt next tick.
	StatusDown Status = "down"
)

const (
	// TickInterval is how often the Medic re-evaluates every session.
	TickInterval = 3 * time.Second
	// MaxFailures is the number of outstanding (unanswered) pings a
	// session may accumulate before the Medic treats it as unreachable
	// and attempts to replace its route.
	MaxFailures = 3
	// RetryDelay is how long the Medic waits after marking a session
	// Degraded before actually calling its replacer.
	RetryDelay = 5 * time.Second
)

// ReplacerFunc is called with a session's last-known route once it has
// accumulated MaxFailures outstanding pings, and must return a new route to
// the same peer (or an error if no replacement route could be found).
type ReplacerFunc func(oldRoute wire.Route) (wire.Route, error)

// Record is a read-only snapshot of one session's state, for introspection
// (logging, metrics, a status CLI) that has no business touching the live
// Session under its lock.
type Record struct {
	Key              string
	Status           Status
	OutstandingPings int
	CreatedAt        time.Time
}

// RecordBuilder assembles a Record fluently, mirroring the pattern the rest
// of this codebase uses for building up small immutable value types.
type RecordBuilder struct {
	rec Record
}

// NewRecordBuilder starts building a Record for the given session key.
func NewRecordBuilder(key string) *RecordBuilder {
	return &RecordBuilder{rec: Record{Key: key, CreatedAt: time.Now()}}
}

func (b *RecordBuilder) WithStatus(s Status) *RecordBuilder {
	b.rec.Status = s
	return b
}

func (b *RecordBuilder) WithOutstandingPings(n int) *RecordBuilder {
	b.rec.OutstandingPings = n
	return b
}

func (b *RecordBuilder) WithCreatedAt(t time.Time) *RecordBuilder {
	b.rec.CreatedAt = t
	return b
}

func (b *RecordBuilder) Build() Record {
	return b.rec
}
