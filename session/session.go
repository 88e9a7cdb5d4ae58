// Copyright (C) 2025 sage-x-project
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/build-trust/ockam-go/wire"
)

// Session is one route the Medic keeps alive. All fields are guarded by mu;
// callers never touch them directly -- Medic is the only owner.
type Session struct {
	mu sync.Mutex

	key              string
	pingRoute        wire.Route
	status           Status
	outstandingPings map[string]struct{}
	replacer         ReplacerFunc
	createdAt        time.Time
}

func newSession(key string, pingRoute wire.Route, replacer ReplacerFunc) *Session {
	return &Session{
		key:              key,
		pingRoute:        pingRoute,
		status:           StatusUp,
		outstandingPings: make(map[string]struct{}),
		replacer:         replacer,
		createdAt:        time.Now(),
	}
}

// Key returns the session's stable identifier.
func (s *Session) Key() string {
	return s.key
}

// Status returns the session's current health.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Record snapshots the session's current state for introspection.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewRecordBuilder(s.key).
		WithStatus(s.status).
		WithOutstandingPings(len(s.outstandingPings)).
		WithCreatedAt(s.createdAt).
		Build()
}
