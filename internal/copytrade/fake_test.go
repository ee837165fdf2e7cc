package copytrade

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"copytrader-go/internal/derivws"
)

type callHandler func(ctx context.Context, req derivws.Request) (derivws.Response, error)

// fakeConn is an in-memory Conn. Calls are answered synchronously by handler.
type fakeConn struct {
	handler callHandler

	mu        sync.Mutex
	requests  []derivws.Request
	sent      []derivws.Request
	listeners map[int]func(derivws.Response)
	nextID    int

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newFakeConn(h callHandler) *fakeConn {
	return &fakeConn{
		handler:   h,
		listeners: make(map[int]func(derivws.Response)),
		done:      make(chan struct{}),
	}
}

func (f *fakeConn) Call(ctx context.Context, req derivws.Request) (derivws.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	select {
	case <-f.done:
		return derivws.Response{}, derivws.ErrClosed
	default:
	}
	if f.handler == nil {
		return derivws.Response{}, nil
	}
	return f.handler(ctx, req)
}

func (f *fakeConn) Send(req derivws.Request) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) OnMessage(fn func(derivws.Response)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return f.closeErr
}

func (f *fakeConn) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// push delivers a stream message to every listener on the calling goroutine.
func (f *fakeConn) push(resp derivws.Response) {
	f.mu.Lock()
	fns := make([]func(derivws.Response), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(resp)
	}
}

func (f *fakeConn) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeConn) requestsOf(kind string) []derivws.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []derivws.Request
	for _, req := range f.requests {
		if _, ok := req[kind]; ok {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeConn) sentRequests() []derivws.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]derivws.Request, len(f.sent))
	copy(out, f.sent)
	return out
}

func message(t *testing.T, msgType string, payload any, subscriptionID string) derivws.Response {
	t.Helper()
	msg := map[string]any{"msg_type": msgType, msgType: payload}
	if subscriptionID != "" {
		msg["subscription"] = map[string]any{"id": subscriptionID}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	resp, err := derivws.ParseResponse(data)
	if err != nil {
		t.Fatalf("parse %s: %v", msgType, err)
	}
	return resp
}

func mustMessage(msgType string, payload any, subscriptionID string) derivws.Response {
	msg := map[string]any{"msg_type": msgType, msgType: payload}
	if subscriptionID != "" {
		msg["subscription"] = map[string]any{"id": subscriptionID}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	resp, err := derivws.ParseResponse(data)
	if err != nil {
		panic(err)
	}
	return resp
}

func apiError(msgType, code, text string) (derivws.Response, error) {
	apiErr := &derivws.APIError{Code: code, Message: text}
	return derivws.Response{MsgType: msgType, Error: apiErr}, apiErr
}

type fakeAccount struct {
	loginID string
	balance float64
	reject  bool
}

// fakePlatform hands out fakeConns that authorize against accounts and answer
// proposal/buy/contract requests with predictable ids.
type fakePlatform struct {
	t        *testing.T
	accounts map[string]fakeAccount

	dials      atomic.Int32
	contractID atomic.Int64

	mu    sync.Mutex
	conns map[string]*fakeConn
	holds map[string]chan struct{}
}

func newFakePlatform(t *testing.T, accounts map[string]fakeAccount) *fakePlatform {
	return &fakePlatform{t: t, accounts: accounts, conns: make(map[string]*fakeConn), holds: make(map[string]chan struct{})}
}

// holdLogin blocks every authorize of token until the returned release is called.
func (p *fakePlatform) holdLogin(token string) (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.holds[token] = gate
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.holds, token)
			p.mu.Unlock()
			close(gate)
		})
	}
}

func (p *fakePlatform) gate(token string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holds[token]
}

func (p *fakePlatform) dial(ctx context.Context) (Conn, error) {
	p.dials.Add(1)
	var conn *fakeConn
	conn = newFakeConn(func(ctx context.Context, req derivws.Request) (derivws.Response, error) {
		if token, ok := req["authorize"].(string); ok {
			if gate := p.gate(token); gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return derivws.Response{}, ctx.Err()
				}
			}
			acct, known := p.accounts[token]
			if !known || acct.reject {
				return apiError("authorize", "InvalidToken", "The token is invalid.")
			}
			p.mu.Lock()
			p.conns[token] = conn
			p.mu.Unlock()
			return mustMessage("authorize", map[string]any{
				"loginid":  acct.loginID,
				"balance":  acct.balance,
				"currency": "USD",
			}, ""), nil
		}
		return tradingHandler(&p.contractID)(ctx, req)
	})
	return conn, nil
}

func (p *fakePlatform) conn(token string) *fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[token]
}

// tradingHandler answers the requests a replication issues.
func tradingHandler(contractIDs *atomic.Int64) callHandler {
	return func(_ context.Context, req derivws.Request) (derivws.Response, error) {
		switch {
		case req["transaction"] != nil:
			return mustMessage("transaction", map[string]any{}, "tx-sub"), nil
		case req["proposal"] != nil:
			return mustMessage("proposal", map[string]any{"id": "prop-1", "ask_price": req["amount"]}, ""), nil
		case req["buy"] != nil:
			id := contractIDs.Add(1)
			return mustMessage("buy", map[string]any{
				"contract_id":    1000 + id,
				"buy_price":      req["price"],
				"transaction_id": 5000 + id,
				"balance_after":  100,
			}, ""), nil
		case req["proposal_open_contract"] != nil:
			return mustMessage("proposal_open_contract", map[string]any{
				"contract_id": req["contract_id"],
				"is_sold":     0,
				"status":      "open",
			}, "poc-sub"), nil
		}
		return derivws.Response{}, nil
	}
}

func newPlatformConn() *fakeConn {
	var ids atomic.Int64
	return newFakeConn(tradingHandler(&ids))
}

func buyEvent(t *testing.T, txID int64, symbol string, amount float64, contractType string) derivws.Response {
	return message(t, "transaction", map[string]any{
		"action":         "buy",
		"transaction_id": txID,
		"contract_id":    txID + 1,
		"symbol":         symbol,
		"amount":         -amount,
		"balance":        490,
		"contract_type":  contractType,
	}, "tx-sub")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
