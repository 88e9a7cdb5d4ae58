// Package forwarder implements layer L6's RemoteForwarder: a worker that
// registers itself with a hub service so that traffic addressed to the
// route the hub hands back gets relayed to this node, and keeps that
// registration alive with a heartbeat.
package forwarder

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/wire"
)

const (
	// RegisterPayload is sent by an ephemeral forwarder, which receives
	// whatever alias the hub assigns it in return.
	RegisterPayload = "register"

	DefaultStaticHeartbeat     = 5 * time.Second
	DefaultEphemeralHeartbeat  = 10 * time.Second
	DefaultRegistrationTimeout = 5 * time.Second
)

// Options configures Register.
type Options struct {
	// HeartbeatInterval overrides the default (DefaultStaticHeartbeat for
	// a named alias, DefaultEphemeralHeartbeat otherwise) if non-zero.
	HeartbeatInterval time.Duration
	// RegistrationTimeout bounds how long Register waits for the hub's
	// reply; defaults to DefaultRegistrationTimeout.
	RegistrationTimeout time.Duration
	// OnForward, if set, replaces the default behaviour (ctx.Forward) for
	// every non-registration message the forwarder receives.
	OnForward func(*node.Context, wire.LocalMessage) error
	Log       logger.Logger
}

// RemoteForwarder is a live registration: ForwardingRoute is what remote
// peers prepend to their own onward route to have traffic relayed to
// Address on this node.
type RemoteForwarder struct {
	Address         wire.Address
	ForwardingRoute wire.Route

	ctx *node.Context
}

// Close stops the forwarder worker and its heartbeat.
func (f *RemoteForwarder) Close() error {
	return f.ctx.StopWorker(f.Address)
}

// Register sends a registration payload along hubRoute (alias, or
// RegisterPayload for an ephemeral forwarder assigned one by the hub),
// waits for the hub's reply, and starts the long-lived forwarder worker
// once registration succeeds.
func Register(n *node.Node, hubRoute wire.Route, alias string, opts Options) (*RemoteForwarder, error) {
	log := opts.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	timeout := opts.RegistrationTimeout
	if timeout <= 0 {
		timeout = DefaultRegistrationTimeout
	}

	root, err := n.NewContext(wire.NewLocalAddress("_internals.forwarder." + uuid.NewString()))
	if err != nil {
		return nil, err
	}
	established := false
	defer func() {
		if !established {
			root.Close()
		}
	}()

	payload := []byte(RegisterPayload)
	if alias != "" {
		payload = []byte(alias)
	}

	if err := root.Send(hubRoute, payload); err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginAPI, ockamerr.KindIO, "send forwarder registration", err)
	}
	reply, err := root.ReceiveExtended(timeout)
	if err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginAPI, ockamerr.KindTimeout, "awaiting forwarder registration reply", err)
	}
	forwardingRoute, err := wire.DecodeRoute(reply.Local.Transport.Payload)
	if err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginAPI, ockamerr.KindSerialization, "decode forwarding route", err)
	}

	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		if alias != "" {
			heartbeat = DefaultStaticHeartbeat
		} else {
			heartbeat = DefaultEphemeralHeartbeat
		}
	}

	// root's bootstrap address becomes the forwarder's permanent address,
	// the same address-reuse trick the secure channel uses: it is
	// already whatever the hub's relay was told to target.
	root.Close()

	fw := &forwarderWorker{hubRoute: hubRoute, payload: payload, heartbeat: heartbeat, onForward: opts.OnForward, log: log}
	if err := root.StartWorker(fw, node.NewMailboxes(node.NewMailbox(root.Address(), ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
		return nil, err
	}
	established = true

	return &RemoteForwarder{Address: root.Address(), ForwardingRoute: forwardingRoute, ctx: root}, nil
}

// forwarderWorker relays every non-heartbeat message it receives onward
// and keeps the hub's registration alive.
type forwarderWorker struct {
	hubRoute  wire.Route
	payload   []byte
	heartbeat time.Duration
	onForward func(*node.Context, wire.LocalMessage) error
	log       logger.Logger

	mu            sync.Mutex
	timer         *time.Timer
	stopHeartbeat chan struct{}
}

func (f *forwarderWorker) Initialize(ctx *node.Context) error {
	f.timer = time.NewTimer(f.heartbeat)
	f.stopHeartbeat = make(chan struct{})
	go f.heartbeatLoop(ctx)
	return nil
}

func (f *forwarderWorker) heartbeatLoop(ctx *node.Context) {
	for {
		f.mu.Lock()
		c := f.timer.C
		f.mu.Unlock()
		select {
		case <-c:
			if err := ctx.Send(f.hubRoute, f.payload); err != nil {
				f.log.Warn("forwarder: heartbeat re-registration failed", logger.Error(err))
			}
			f.resetTimer()
		case <-f.stopHeartbeat:
			return
		}
	}
}

// resetTimer is called both by the heartbeat loop after it fires and by
// HandleMessage on every forwarded payload, per spec: any payload
// received via the forwarding path resets the heartbeat timer.
func (f *forwarderWorker) resetTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.timer.Stop() {
		select {
		case <-f.timer.C:
		default:
		}
	}
	f.timer.Reset(f.heartbeat)
}

func (f *forwarderWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	if len(msg.Local.Transport.OnwardRoute) == 0 {
		// The hub's reply to a heartbeat re-registration: nothing to relay.
		return nil
	}
	f.resetTimer()
	if f.onForward != nil {
		return f.onForward(ctx, msg.Local)
	}
	return ctx.Forward(msg.Local)
}

func (f *forwarderWorker) Shutdown(ctx *node.Context) error {
	close(f.stopHeartbeat)
	return nil
}
