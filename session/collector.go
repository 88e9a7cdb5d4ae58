// Copyright (C) 2025 sage-x-project
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/wire"
)

// pong is one decoded reply, handed from the collector worker's dispatch
// goroutine to the Medic's own run loop.
type pong struct {
	key   string
	nonce string
}

// collectorWorker is the Medic's single point of contact with the node
// runtime: every pong a ping elicits, from any session, arrives here, is
// decoded into its key and nonce, and is handed to the Medic's run loop,
// which matches it to a session.
type collectorWorker struct {
	out chan<- pong
}

func (c *collectorWorker) Initialize(ctx *node.Context) error { return nil }

func (c *collectorWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	key, nonce, ok := decodePing(msg.Local.Transport.Payload)
	if !ok {
		return nil
	}
	select {
	case c.out <- pong{key: key, nonce: nonce}:
	default:
		// The Medic's run loop is momentarily behind; a pong dropped here
		// leaves its ping counted as outstanding.
	}
	return nil
}

func (c *collectorWorker) Shutdown(ctx *node.Context) error { return nil }
