package copytrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"copytrader-go/internal/derivws"
	"copytrader-go/internal/util"
)

// ConnState is the lifecycle of a trader connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthorizing
	StateAuthorized
	StateSubscribed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthorized:
		return "authorized"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// canTransition lists the legal edges of the state machine.
func (s ConnState) canTransition(to ConnState) bool {
	switch s {
	case StateConnecting:
		return to == StateAuthorizing || to == StateClosed
	case StateAuthorizing:
		return to == StateAuthorized || to == StateClosed
	case StateAuthorized:
		return to == StateSubscribed || to == StateClosed
	case StateSubscribed:
		return to == StateClosed
	case StateClosed:
		return false
	default:
		return false
	}
}

// Live reports whether the connection can carry trades.
func (s ConnState) Live() bool {
	return s == StateAuthorized || s == StateSubscribed
}

// AccountKind distinguishes practice accounts from funded ones.
type AccountKind string

const (
	AccountDemo AccountKind = "demo"
	AccountReal AccountKind = "real"
)

const demoPrefix = "VR"

func accountKindOf(loginID string) AccountKind {
	if strings.HasPrefix(strings.ToUpper(loginID), demoPrefix) {
		return AccountDemo
	}
	return AccountReal
}

// Account is what a successful login resolved to.
type Account struct {
	LoginID  string
	Kind     AccountKind
	Balance  float64
	Currency string
}

type authorizeResult struct {
	LoginID  string  `json:"loginid"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// TraderConnection is one authenticated transport for one credential.
type TraderConnection struct {
	token string
	log   zerolog.Logger

	mu          sync.Mutex
	conn        Conn
	state       ConnState
	account     Account
	connectedAt time.Time
	stopFeed    func()
}

func (tc *TraderConnection) transition(to ConnState) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.state == to {
		return nil
	}
	if !tc.state.canTransition(to) {
		return fmt.Errorf("illegal connection transition %s -> %s", tc.state, to)
	}
	tc.state = to
	return nil
}

// State returns the current lifecycle state.
func (tc *TraderConnection) State() ConnState {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.state
}

// Account returns the resolved account; zero until authorized.
func (tc *TraderConnection) Account() Account {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.account
}

// Conn returns the transport, nil before it opened.
func (tc *TraderConnection) Conn() Conn {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.conn
}

// Token returns the credential masked for display.
func (tc *TraderConnection) Token() string { return util.MaskToken(tc.token) }

// Done is closed when the transport closes.
func (tc *TraderConnection) Done() <-chan struct{} {
	if conn := tc.Conn(); conn != nil {
		return conn.Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Close closes the transport and marks the connection closed.
func (tc *TraderConnection) Close() error {
	tc.mu.Lock()
	conn, stop := tc.conn, tc.stopFeed
	tc.state = StateClosed
	tc.stopFeed = nil
	tc.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (tc *TraderConnection) markClosed() {
	_ = tc.transition(StateClosed)
}

// Info snapshots the connection for display.
func (tc *TraderConnection) Info() TraderInfo {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return TraderInfo{
		Token:       util.MaskToken(tc.token),
		LoginID:     tc.account.LoginID,
		AccountType: string(tc.account.Kind),
		Balance:     tc.account.Balance,
		Currency:    tc.account.Currency,
		State:       tc.state.String(),
		ConnectedAt: tc.connectedAt,
	}
}

// feedHandler receives transaction events in delivery order on the transport's read goroutine.
type feedHandler func(tc *TraderConnection, tx Transaction)

// openConnection dials, logs in and, when onTx is set, subscribes to the transaction feed.
// The whole sequence is bounded by timeout; on any failure the transport is closed.
func openConnection(ctx context.Context, dial DialFunc, token string, timeout time.Duration, now func() time.Time, log zerolog.Logger, onTx feedHandler) (*TraderConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tc := &TraderConnection{
		token: token,
		state: StateConnecting,
		log:   log.With().Str("token", util.MaskToken(token)).Logger(),
	}

	conn, err := dial(ctx)
	if err != nil {
		tc.markClosed()
		return nil, fmt.Errorf("connect: %w", err)
	}
	tc.mu.Lock()
	tc.conn = conn
	tc.mu.Unlock()

	fail := func(err error) (*TraderConnection, error) {
		_ = tc.Close()
		return nil, err
	}

	if err := tc.transition(StateAuthorizing); err != nil {
		return fail(err)
	}
	resp, err := conn.Call(ctx, derivws.Request{"authorize": token})
	if err != nil {
		var apiErr *derivws.APIError
		if errors.As(err, &apiErr) {
			return fail(fmt.Errorf("%w: %s", ErrAuthorization, apiErr.Error()))
		}
		return fail(fmt.Errorf("authorize: %w", err))
	}
	var auth authorizeResult
	if err := resp.Decode("authorize", &auth); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrAuthorization, err))
	}

	tc.mu.Lock()
	tc.account = Account{
		LoginID:  auth.LoginID,
		Kind:     accountKindOf(auth.LoginID),
		Balance:  auth.Balance,
		Currency: auth.Currency,
	}
	tc.connectedAt = now()
	tc.mu.Unlock()
	if err := tc.transition(StateAuthorized); err != nil {
		return fail(err)
	}

	if onTx == nil {
		return tc, nil
	}

	stop := conn.OnMessage(func(resp derivws.Response) {
		if resp.MsgType != "transaction" || resp.Error != nil {
			return
		}
		var tx Transaction
		if err := resp.Decode("transaction", &tx); err != nil {
			return
		}
		if tx.Action == "" {
			return
		}
		tc.updateBalance(tx)
		onTx(tc, tx)
	})
	tc.mu.Lock()
	tc.stopFeed = stop
	tc.mu.Unlock()

	if _, err := conn.Call(ctx, derivws.Request{"transaction": 1, "subscribe": 1}); err != nil {
		return fail(fmt.Errorf("%w: transaction feed: %w", ErrSubscription, err))
	}
	if err := tc.transition(StateSubscribed); err != nil {
		return fail(err)
	}
	return tc, nil
}

func (tc *TraderConnection) updateBalance(tx Transaction) {
	if tx.Balance == 0 {
		return
	}
	tc.mu.Lock()
	tc.account.Balance = tx.Balance
	tc.mu.Unlock()
}
