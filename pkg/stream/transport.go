package stream

import "context"

// Message is one named push message as it came off the wire.
type Message struct {
	Name string
	Data []byte
}

// Conn is a single live transport connection to the push endpoint.
// Next blocks until a message arrives or the connection fails; Close unblocks it.
type Conn interface {
	Next() (Message, error)
	Close() error
}

// Dialer opens new connections to the push endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
