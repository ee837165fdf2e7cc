package copytrade

import (
	"context"

	"copytrader-go/internal/derivws"
)

// Conn is a platform transport: request/response by req_id plus a message stream.
// *derivws.Client satisfies it.
type Conn interface {
	Call(ctx context.Context, req derivws.Request) (derivws.Response, error)
	Send(req derivws.Request) error
	OnMessage(fn func(derivws.Response)) func()
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a new transport for one account.
type DialFunc func(ctx context.Context) (Conn, error)

var _ Conn = (*derivws.Client)(nil)
