package core

// Worker is an actor that reacts to individual messages delivered to its
// mailboxes. Messages are handled one at a time.
type Worker interface {
	// Initialize is called once before the first message.
	// Returning an error stops the worker without handling any message.
	Initialize(ctx *Context) error

	// HandleMessage processes a single message. env.Destination tells which
	// of the worker's mailboxes it was delivered to. An error is logged and
	// the worker keeps running.
	HandleMessage(ctx *Context, env *Envelope) error

	// Shutdown is called once after the worker stopped handling messages.
	Shutdown(ctx *Context) error
}

// Processor is an actor whose Process step is executed repeatedly until it
// signals stop.
type Processor interface {
	// Initialize is called once before the first iteration.
	Initialize(ctx *Context) error

	// Process runs one iteration. Returning false or an error stops the
	// processor. Process must watch ctx.Done() when it blocks.
	Process(ctx *Context) (bool, error)

	// Shutdown is called once after the last iteration.
	Shutdown(ctx *Context) error
}
