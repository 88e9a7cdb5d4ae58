// Copyright (C) 2025 sage-x-project
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/internal/metrics"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// Options configures a Medic. Zero values fall back to the spec defaults
// (TickInterval, MaxFailures, RetryDelay).
type Options struct {
	TickInterval time.Duration
	MaxFailures  int
	RetryDelay   time.Duration
	Log          logger.Logger
}

// Medic is the Session Supervisor: it periodically pings every session it
// is tracking and, once a session goes quiet for too long, hands its old
// route to a replacer and waits for a new one.
type Medic struct {
	tickInterval time.Duration
	maxFailures  int
	retryDelay   time.Duration
	log          logger.Logger

	senderCtx     *node.Context
	collectorAddr wire.Address

	mu       sync.Mutex
	sessions map[string]*Session

	pongs   chan pong
	ticker  *time.Ticker
	stop    chan struct{}
	stopped chan struct{}

	nonceSeq uint64
}

// NewMedic starts a collector worker on n and returns a Medic ready to
// track sessions. Call Start to begin the tick loop.
func NewMedic(n *node.Node, opts Options) (*Medic, error) {
	log := opts.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = TickInterval
	}
	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = MaxFailures
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = RetryDelay
	}

	m := &Medic{
		tickInterval: tick,
		maxFailures:  maxFailures,
		retryDelay:   retryDelay,
		log:          log,
		sessions:     make(map[string]*Session),
		pongs:        make(chan pong, 64),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	senderCtx, err := n.NewContext(wire.NewLocalAddress("_internals.session.medic." + uuid.NewString()))
	if err != nil {
		return nil, err
	}
	m.senderCtx = senderCtx

	collectorAddr := wire.NewLocalAddress("_internals.session.medic.collector." + uuid.NewString())
	col := &collectorWorker{out: m.pongs}
	if err := senderCtx.StartWorker(col, node.NewMailboxes(node.NewMailbox(collectorAddr, ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
		return nil, err
	}
	m.collectorAddr = collectorAddr

	return m, nil
}

// Start begins the periodic tick loop in the background.
func (m *Medic) Start() {
	m.ticker = time.NewTicker(m.tickInterval)
	go m.run()
}

// Close stops the tick loop and the collector worker.
func (m *Medic) Close() error {
	close(m.stop)
	<-m.stopped
	if m.ticker != nil {
		m.ticker.Stop()
	}
	err := m.senderCtx.StopWorker(m.collectorAddr)
	m.senderCtx.Close()
	return err
}

// Track begins supervising a session identified by key, initially reachable
// via pingRoute. If the session stops answering pings, replacer is called
// with its last-known route to obtain a new one.
func (m *Medic) Track(key string, pingRoute wire.Route, replacer ReplacerFunc) *Session {
	s := newSession(key, pingRoute, replacer)
	m.mu.Lock()
	m.sessions[key] = s
	m.mu.Unlock()
	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	return s
}

// Untrack stops supervising the named session.
func (m *Medic) Untrack(key string) {
	m.mu.Lock()
	_, existed := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if existed {
		metrics.SessionsClosed.Inc()
		metrics.SessionsActive.Dec()
	}
}

// Session returns the tracked session for key, if any.
func (m *Medic) Session(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Snapshot returns a Record for every tracked session.
func (m *Medic) Snapshot() []Record {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Record, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Record())
	}
	return out
}

func (m *Medic) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.ticker.C:
			m.tick()
		case p := <-m.pongs:
			m.handlePong(p)
		case <-m.stop:
			return
		}
	}
}

func (m *Medic) tick() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		failures := len(s.outstandingPings)
		status := s.status
		route := s.pingRoute
		s.mu.Unlock()

		if failures < m.maxFailures {
			m.sendPing(s)
			continue
		}

		if status == StatusDegraded {
			// A replacement attempt is already in flight for this session.
			continue
		}

		s.mu.Lock()
		s.status = StatusDegraded
		s.mu.Unlock()
		go m.replace(s, route)
	}
}

func (m *Medic) sendPing(s *Session) {
	nonce := m.nextNonce()

	s.mu.Lock()
	s.outstandingPings[nonce] = struct{}{}
	route := s.pingRoute
	key := s.key
	s.mu.Unlock()

	payload := encodePing(key, nonce)
	if err := m.senderCtx.SendFromAddress(route, payload, m.collectorAddr); err != nil {
		m.log.Debug("session: ping send failed", logger.String("session", key), logger.Error(err))
	}
}

// replace waits RetryDelay then asks the session's replacer for a new
// route. The session stays Degraded for the whole wait so tick doesn't
// start a second concurrent replacement for it.
func (m *Medic) replace(s *Session, oldRoute wire.Route) {
	select {
	case <-time.After(m.retryDelay):
	case <-m.stop:
		return
	}

	newRoute, err := s.replacer(oldRoute)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = StatusDown
		metrics.SessionsExpired.Inc()
		m.log.Warn("session: replacer failed", logger.String("session", s.key), logger.Error(err))
		return
	}
	s.pingRoute = newRoute
	s.outstandingPings = make(map[string]struct{})
	s.status = StatusUp
}

func (m *Medic) handlePong(p pong) {
	m.mu.Lock()
	s, ok := m.sessions[p.key]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.outstandingPings, p.nonce)
	s.mu.Unlock()
}

func (m *Medic) nextNonce() string {
	n := atomic.AddUint64(&m.nonceSeq, 1)
	return strconv.FormatUint(n, 10) + "-" + uuid.NewString()
}
