package node

import "github.com/build-trust/ockam-go/wire"

// Worker handles one message at a time from its mailbox, in the order the
// router delivered them; no two calls into the same Worker ever overlap.
type Worker interface {
	Initialize(ctx *Context) error
	HandleMessage(ctx *Context, msg wire.RelayMessage) error
	Shutdown(ctx *Context) error
}

// Processor drives its own loop instead of reacting to individual
// messages, polling its mailbox (or any other source) on each Process
// call. Process returning false, or a non-nil error, ends the loop.
type Processor interface {
	Initialize(ctx *Context) error
	Process(ctx *Context) (bool, error)
	Shutdown(ctx *Context) error
}

// workerAdapter lets a Worker run the same dispatch loop as a Processor:
// one HandleMessage call per Process call, blocking for the next message.
type workerAdapter struct {
	w Worker
}

func (a workerAdapter) Initialize(ctx *Context) error { return a.w.Initialize(ctx) }
func (a workerAdapter) Shutdown(ctx *Context) error   { return a.w.Shutdown(ctx) }

func (a workerAdapter) Process(ctx *Context) (bool, error) {
	msg, ok := <-ctx.queue
	if !ok {
		return false, nil
	}
	if err := a.w.HandleMessage(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}
