// Copyright (C) 2025 sage-x-project
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// echoWorker answers every message it receives by sending the same payload
// back along the return route, standing in for the "well-known echo
// service" a real ping_route would ultimately reach.
type echoWorker struct{}

func (echoWorker) Initialize(ctx *node.Context) error { return nil }

func (echoWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	return ctx.Send(msg.Local.Transport.ReturnRoute, msg.Local.Transport.Payload)
}

func (echoWorker) Shutdown(ctx *node.Context) error { return nil }

func startEchoWorker(t *testing.T, n *node.Node, addr wire.Address) {
	t.Helper()
	ctx, err := n.NewContext(wire.NewLocalAddress(addr.Value + "-owner"))
	require.NoError(t, err)
	require.NoError(t, ctx.StartWorker(echoWorker{}, node.NewMailboxes(node.NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing()))))
}

func TestMedicKeepsHealthySessionUp(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	echoAddr := wire.NewLocalAddress("echo")
	startEchoWorker(t, n, echoAddr)

	m, err := NewMedic(n, Options{TickInterval: 20 * time.Millisecond, Log: log})
	require.NoError(t, err)
	defer m.Close()
	m.Start()

	m.Track("sess-1", wire.NewRoute(echoAddr), func(wire.Route) (wire.Route, error) {
		t.Fatal("replacer should never run for a healthy session")
		return nil, nil
	})

	require.Eventually(t, func() bool {
		s, ok := m.Session("sess-1")
		return ok && s.Status() == StatusUp
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	s, ok := m.Session("sess-1")
	require.True(t, ok)
	assert.Equal(t, StatusUp, s.Status())
}

func TestMedicReplacesDeadSession(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	// deadRoute points nowhere, so pings along it never get a reply.
	deadRoute := wire.NewRoute(wire.NewLocalAddress("nobody-home"))

	replacementAddr := wire.NewLocalAddress("echo-2")
	startEchoWorker(t, n, replacementAddr)

	replacerCalled := make(chan wire.Route, 1)
	replacer := func(old wire.Route) (wire.Route, error) {
		replacerCalled <- old
		return wire.NewRoute(replacementAddr), nil
	}

	m, err := NewMedic(n, Options{
		TickInterval: 10 * time.Millisecond,
		MaxFailures:  3,
		RetryDelay:   20 * time.Millisecond,
		Log:          log,
	})
	require.NoError(t, err)
	defer m.Close()
	m.Start()

	m.Track("sess-2", deadRoute, replacer)

	select {
	case old := <-replacerCalled:
		assert.Equal(t, deadRoute, old)
	case <-time.After(2 * time.Second):
		t.Fatal("replacer was never invoked for the dead session")
	}

	require.Eventually(t, func() bool {
		s, ok := m.Session("sess-2")
		return ok && s.Status() == StatusUp
	}, time.Second, 10*time.Millisecond)
}

func TestMedicSnapshotReportsTrackedSessions(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	echoAddr := wire.NewLocalAddress("echo-snap")
	startEchoWorker(t, n, echoAddr)

	m, err := NewMedic(n, Options{TickInterval: time.Hour, Log: log})
	require.NoError(t, err)
	defer m.Close()
	m.Start()

	m.Track("a", wire.NewRoute(echoAddr), nil)
	m.Track("b", wire.NewRoute(echoAddr), nil)

	records := m.Snapshot()
	require.Len(t, records, 2)

	keys := map[string]bool{}
	for _, r := range records {
		keys[r.Key] = true
		assert.Equal(t, StatusUp, r.Status)
	}
	assert.True(t, keys["a"])
	assert.True(t, keys["b"])
}

func TestMedicUntrackStopsSupervision(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	echoAddr := wire.NewLocalAddress("echo-untrack")
	startEchoWorker(t, n, echoAddr)

	m, err := NewMedic(n, Options{TickInterval: 10 * time.Millisecond, Log: log})
	require.NoError(t, err)
	defer m.Close()
	m.Start()

	m.Track("c", wire.NewRoute(echoAddr), nil)
	m.Untrack("c")

	_, ok := m.Session("c")
	assert.False(t, ok)
}
