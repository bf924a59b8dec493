package generation

import (
	"context"
)

// Transport opens the channel a single session talks over.
type Transport interface {
	// Open establishes the channel and sends the request. The returned stream
	// is bound to ctx: cancelling ctx unblocks Recv.
	Open(ctx context.Context, req Request) (Stream, error)
	// Name identifies the transport in logs.
	Name() string
}

// Stream yields server frames in order. Recv returns io.EOF after a clean
// close and a *utils.GenerationError for any other failure.
type Stream interface {
	Recv() (Message, error)
	Close() error
}
