package copytrade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"copytrader-go/internal/derivws"
	"copytrader-go/internal/journal"
	"copytrader-go/internal/risk"
)

func newTestController(platform Conn, dial DialFunc, opts ...ControllerOption) *Controller {
	return NewController(platform, dial, zerolog.Nop(), opts...)
}

func TestStartWithoutTokensDoesNotDial(t *testing.T) {
	p := newFakePlatform(t, nil)
	c := newTestController(newPlatformConn(), p.dial)

	err := c.Start(context.Background(), Config{Tokens: []string{" ", ""}})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if p.dials.Load() != 0 {
		t.Fatalf("expected no dial attempts, got %d", p.dials.Load())
	}
	if c.IsRunning() {
		t.Fatalf("controller should be idle")
	}
}

func TestStartMirrorRequiresToken(t *testing.T) {
	p := newFakePlatform(t, nil)
	c := newTestController(newPlatformConn(), p.dial)

	err := c.Start(context.Background(), Config{Tokens: []string{"T1"}, MirrorToReal: true})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if p.dials.Load() != 0 {
		t.Fatalf("expected no dial attempts")
	}
}

func TestStartWithoutPlatform(t *testing.T) {
	p := newFakePlatform(t, nil)
	c := newTestController(nil, p.dial)
	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}}); !errors.Is(err, ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
}

func TestStartSingleRealTrader(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR100", balance: 500}})
	c := newTestController(newPlatformConn(), p.dial)

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	traders := c.ConnectedTraders()
	if len(traders) != 1 {
		t.Fatalf("expected 1 trader, got %d", len(traders))
	}
	if traders[0].Balance != 500 || traders[0].AccountType != string(AccountReal) || traders[0].LoginID != "CR100" {
		t.Fatalf("unexpected trader info %+v", traders[0])
	}
	if traders[0].State != StateSubscribed.String() {
		t.Fatalf("expected subscribed state, got %s", traders[0].State)
	}
	status := c.Status()
	if !status.IsActive || status.ConnectedTraders != 1 || status.TradesCopied != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(p.conn("T1").requestsOf("transaction")) != 1 {
		t.Fatalf("expected transaction subscription")
	}
}

func TestStartSkipsFailedLogin(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{
		"T1": {loginID: "CR1", reject: true},
		"T2": {loginID: "CR2", balance: 10},
	})
	c := newTestController(newPlatformConn(), p.dial)

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1", "T2"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	if got := len(c.ConnectedTraders()); got != 1 {
		t.Fatalf("expected 1 trader, got %d", got)
	}
	if c.ConnectedTraders()[0].LoginID != "CR2" {
		t.Fatalf("wrong trader tracked")
	}
}

func TestStartFailsWhenNoTraderConnects(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{
		"T1": {reject: true},
		"T2": {reject: true},
	})
	c := newTestController(newPlatformConn(), p.dial, WithSweepInterval(5*time.Millisecond))

	err := c.Start(context.Background(), Config{Tokens: []string{"T1", "T2"}})
	if !errors.Is(err, ErrNoTradersConnected) {
		t.Fatalf("expected ErrNoTradersConnected, got %v", err)
	}
	if c.IsRunning() || c.Status().State != ControllerIdle.String() {
		t.Fatalf("controller should be idle after failed start")
	}
	dials := p.dials.Load()
	time.Sleep(30 * time.Millisecond)
	if p.dials.Load() != dials {
		t.Fatalf("no sweep should run after a failed start")
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}})
	c := newTestController(newPlatformConn(), p.dial)
	cfg := Config{Tokens: []string{"T1"}}

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	if err := c.Start(context.Background(), cfg); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if p.dials.Load() != 1 {
		t.Fatalf("second start must not dial, dials=%d", p.dials.Load())
	}
}

func TestConnectTimeoutClosesTransport(t *testing.T) {
	var hung *fakeConn
	dial := func(ctx context.Context) (Conn, error) {
		hung = newFakeConn(func(ctx context.Context, req derivws.Request) (derivws.Response, error) {
			<-ctx.Done()
			return derivws.Response{}, ctx.Err()
		})
		return hung, nil
	}
	c := newTestController(newPlatformConn(), dial, WithConnectTimeout(30*time.Millisecond))

	err := c.Start(context.Background(), Config{Tokens: []string{"T1"}})
	if !errors.Is(err, ErrNoTradersConnected) {
		t.Fatalf("expected ErrNoTradersConnected, got %v", err)
	}
	if !hung.closed() {
		t.Fatalf("timed out transport should be closed")
	}
}

func TestFilteredTransactionIsNotReplicated(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1", balance: 500}})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}, MinStake: risk.Bound(20)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	p.conn("T1").push(buyEvent(t, 1, "X", 10, "CALL"))
	time.Sleep(20 * time.Millisecond)

	if got := c.Status().TradesCopied; got != 0 {
		t.Fatalf("expected no trades, got %d", got)
	}
	if len(platform.requestsOf("proposal")) != 0 {
		t.Fatalf("filtered transaction must not be quoted")
	}
}

func TestNonBuyTransactionsAreIgnored(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	for i, action := range []string{"sell", "deposit", "adjustment"} {
		p.conn("T1").push(message(t, "transaction", map[string]any{
			"action":         action,
			"transaction_id": 10 + i,
			"symbol":         "R_100",
			"amount":         5,
			"contract_type":  "CALL",
		}, "tx-sub"))
	}
	time.Sleep(20 * time.Millisecond)

	if len(platform.requestsOf("proposal")) != 0 {
		t.Fatalf("non-buy transactions must not be quoted")
	}
	if c.DetailedStatistics().ProcessedTransactions != 0 {
		t.Fatalf("non-buy transactions must not be marked processed")
	}
}

func TestReplicatesOnPlatformAndDeduplicates(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}})
	platform := newPlatformConn()
	ledger := journal.NewLedger(10)
	c := newTestController(platform, p.dial, WithLedger(ledger))

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}, Multiplier: 2}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	event := buyEvent(t, 42, "R_100", 5, "CALL")
	p.conn("T1").push(event)
	p.conn("T1").push(event)
	p.conn("T1").push(event)

	waitFor(t, "trade copied", func() bool { return c.Status().TradesCopied == 1 })
	waitFor(t, "contract monitored", func() bool { return len(platform.requestsOf("proposal_open_contract")) == 1 })

	proposals := platform.requestsOf("proposal")
	if len(proposals) != 1 {
		t.Fatalf("expected exactly one proposal, got %d", len(proposals))
	}
	req := proposals[0]
	if req["amount"] != 10.0 || req["basis"] != "stake" || req["symbol"] != "R_100" || req["contract_type"] != "CALL" {
		t.Fatalf("unexpected proposal %v", req)
	}
	if req["duration"] != DefaultDuration || req["duration_unit"] != DefaultDurationUnit || req["currency"] != "USD" {
		t.Fatalf("expected default duration and currency, got %v", req)
	}
	if _, ok := req["barrier"]; ok {
		t.Fatalf("barrier should be omitted when absent")
	}
	if len(platform.requestsOf("buy")) != 1 {
		t.Fatalf("expected one buy")
	}
	if len(platform.requestsOf("proposal_open_contract")) != 1 {
		t.Fatalf("expected contract monitor subscription")
	}
	if c.Status().TradesCopied != 1 {
		t.Fatalf("duplicates must not be counted")
	}
	if ledger.Len() != 1 || ledger.Snapshot()[0].Route != RoutePrimary {
		t.Fatalf("expected trade recorded on primary route, got %+v", ledger.Snapshot())
	}
}

func TestSameTransactionFromDifferentTradersIsCopiedTwice(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}, "T2": {loginID: "CR2"}})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1", "T2"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	p.conn("T1").push(buyEvent(t, 7, "R_50", 1, "PUT"))
	p.conn("T2").push(buyEvent(t, 7, "R_50", 1, "PUT"))

	waitFor(t, "both trades copied", func() bool { return c.Status().TradesCopied == 2 })
}

func TestMirrorRoutesTradesToRealAccount(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{
		"T1":   {loginID: "VRTC1", balance: 1000},
		"REAL": {loginID: "CR900", balance: 50},
	})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)

	cfg := Config{Tokens: []string{"T1"}, MirrorToReal: true, RealToken: "REAL"}
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if c.ConnectedTraders()[0].AccountType != string(AccountDemo) {
		t.Fatalf("VR account should be demo")
	}
	mirror := p.conn("REAL")
	if len(mirror.requestsOf("transaction")) != 0 {
		t.Fatalf("mirror must not subscribe to its own feed")
	}

	p.conn("T1").push(buyEvent(t, 1, "R_100", 3, "CALL"))
	waitFor(t, "mirror trade", func() bool { return c.Status().TradesCopied == 1 })
	waitFor(t, "mirror trade recorded", func() bool { return len(c.DetailedStatistics().RecentTrades) == 1 })

	if len(mirror.requestsOf("proposal")) != 1 || len(mirror.requestsOf("buy")) != 1 {
		t.Fatalf("expected quote and buy on mirror connection")
	}
	if len(platform.requestsOf("proposal")) != 0 {
		t.Fatalf("platform connection must not be used while mirroring")
	}
	stats := c.DetailedStatistics()
	if stats.Mirror == nil || stats.Mirror.LoginID != "CR900" || !stats.MirrorToReal {
		t.Fatalf("unexpected mirror stats %+v", stats.Mirror)
	}
	if stats.RecentTrades[0].Route != RouteMirror {
		t.Fatalf("expected mirror route, got %s", stats.RecentTrades[0].Route)
	}
}

func TestMirrorOnDemoAccountIsRejected(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{
		"T1":   {loginID: "CR1"},
		"DEMO": {loginID: "VRTC9"},
	})
	c := newTestController(newPlatformConn(), p.dial)

	err := c.Start(context.Background(), Config{Tokens: []string{"T1"}, MirrorToReal: true, RealToken: "DEMO"})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if !p.conn("DEMO").closed() {
		t.Fatalf("demo mirror connection should be closed")
	}
	if p.conn("T1") != nil {
		t.Fatalf("traders must not be connected when the mirror fails")
	}
}

func TestMirrorLoginFailureFailsStart(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{
		"T1":   {loginID: "CR1"},
		"REAL": {reject: true},
	})
	c := newTestController(newPlatformConn(), p.dial)

	err := c.Start(context.Background(), Config{Tokens: []string{"T1"}, MirrorToReal: true, RealToken: "REAL"})
	if !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if c.IsRunning() {
		t.Fatalf("controller should be idle")
	}
}

func TestSettledContractAddsProfit(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	p.conn("T1").push(buyEvent(t, 1, "R_100", 2, "CALL"))
	waitFor(t, "monitor subscribed", func() bool { return len(platform.requestsOf("proposal_open_contract")) == 1 })
	contractID := platform.requestsOf("proposal_open_contract")[0]["contract_id"]
	waitFor(t, "monitor listening", func() bool { return platform.listenerCount() == 1 })

	sold := message(t, "proposal_open_contract", map[string]any{
		"contract_id": contractID,
		"is_sold":     1,
		"status":      "won",
		"profit":      1.9,
	}, "poc-sub")
	platform.push(sold)
	platform.push(sold)

	if got := c.Status().TotalProfit; got != 1.9 {
		t.Fatalf("expected profit 1.9, got %v", got)
	}
	sent := platform.sentRequests()
	if len(sent) != 1 || sent[0]["forget"] != "poc-sub" {
		t.Fatalf("expected forget for the contract subscription, got %v", sent)
	}
}

func TestStopResetsSession(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}, "REAL": {loginID: "CR2"}})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}, MirrorToReal: true, RealToken: "REAL"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.conn("T1").push(buyEvent(t, 1, "R_100", 2, "CALL"))
	waitFor(t, "trade copied", func() bool { return c.Status().TradesCopied == 1 })

	result := c.Stop()
	if !result.Success {
		t.Fatalf("stop failed: %s", result.Message)
	}
	status := c.Status()
	if status.IsActive || status.ConnectedTraders != 0 || status.TradesCopied != 0 || status.TotalProfit != 0 {
		t.Fatalf("unexpected status after stop %+v", status)
	}
	if len(c.ConnectedTraders()) != 0 {
		t.Fatalf("expected no traders after stop")
	}
	if !p.conn("T1").closed() || !p.conn("REAL").closed() {
		t.Fatalf("stop must close every transport")
	}
	stats := c.DetailedStatistics()
	if stats.Config != nil || stats.ProcessedTransactions != 0 || stats.StartedAt != nil {
		t.Fatalf("unexpected statistics after stop %+v", stats)
	}

	// a fresh session replays the same transaction
	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer c.Stop()
	p.conn("T1").push(buyEvent(t, 1, "R_100", 2, "CALL"))
	waitFor(t, "trade copied again", func() bool { return c.Status().TradesCopied == 1 })
}

func TestStopWhenIdle(t *testing.T) {
	c := newTestController(newPlatformConn(), newFakePlatform(t, nil).dial)
	if result := c.Stop(); !result.Success {
		t.Fatalf("stop while idle should succeed: %s", result.Message)
	}
}

func TestStopReportsCloseFailure(t *testing.T) {
	var conn *fakeConn
	dial := func(ctx context.Context) (Conn, error) {
		conn = newFakeConn(func(ctx context.Context, req derivws.Request) (derivws.Response, error) {
			if req["authorize"] != nil {
				return mustMessage("authorize", map[string]any{"loginid": "CR1"}, ""), nil
			}
			return mustMessage("transaction", map[string]any{}, "sub"), nil
		})
		conn.closeErr = errors.New("boom")
		return conn, nil
	}
	c := newTestController(newPlatformConn(), dial)
	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}}); err != nil {
		t.Fatalf("start: %v", err)
	}

	result := c.Stop()
	if result.Success || !containsAll(result.Message, "boom") {
		t.Fatalf("expected soft failure, got %+v", result)
	}
	if c.IsRunning() || len(c.ConnectedTraders()) != 0 {
		t.Fatalf("state must be reset even when close fails")
	}
}

func TestClosedConnectionIsDroppedAndReconnected(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}, "T2": {loginID: "CR2"}})
	c := newTestController(newPlatformConn(), p.dial, WithSweepInterval(10*time.Millisecond))

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1", "T2"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	first := p.conn("T1")
	_ = first.Close()
	waitFor(t, "reconnect", func() bool {
		conn := p.conn("T1")
		return conn != first && len(c.ConnectedTraders()) == 2
	})
	if p.dials.Load() < 3 {
		t.Fatalf("expected a new dial for the dropped trader")
	}
	if p.conn("T2").closed() {
		t.Fatalf("healthy connection must not be touched")
	}
}

func TestMirrorRoutesTradesWhileOtherTradersConnect(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{
		"T1":   {loginID: "CR1", balance: 100},
		"T2":   {loginID: "CR2", balance: 100},
		"REAL": {loginID: "CR900", balance: 50},
	})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)

	release := p.holdLogin("T2")
	defer release()
	started := make(chan error, 1)
	go func() {
		started <- c.Start(context.Background(), Config{Tokens: []string{"T1", "T2"}, MirrorToReal: true, RealToken: "REAL"})
	}()

	waitFor(t, "first trader subscribed", func() bool {
		conn := p.conn("T1")
		return conn != nil && len(conn.requestsOf("transaction")) == 1
	})
	if c.IsRunning() {
		t.Fatalf("start should still be waiting on the second login")
	}

	p.conn("T1").push(buyEvent(t, 1, "R_100", 3, "CALL"))
	mirror := p.conn("REAL")
	waitFor(t, "trade on mirror", func() bool { return len(mirror.requestsOf("buy")) == 1 })

	release()
	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return after the second login")
	}
	defer c.Stop()

	if n := len(platform.requestsOf("proposal")); n != 0 {
		t.Fatalf("expected no quotes on the primary session, got %d", n)
	}
	waitFor(t, "trade counted", func() bool { return c.Status().TradesCopied == 1 })
}

func TestMirrorLossFallsBackToPrimaryUntilReconnected(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{
		"T1":   {loginID: "CR1", balance: 100},
		"REAL": {loginID: "CR900", balance: 50},
	})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial, WithSweepInterval(10*time.Millisecond))

	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}, MirrorToReal: true, RealToken: "REAL"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	first := p.conn("REAL")
	release := p.holdLogin("REAL")
	defer release()
	_ = first.Close()
	waitFor(t, "mirror dropped", func() bool { return c.DetailedStatistics().Mirror == nil })

	p.conn("T1").push(buyEvent(t, 1, "R_100", 3, "CALL"))
	waitFor(t, "trade on primary", func() bool { return len(platform.requestsOf("buy")) == 1 })
	if n := len(first.requestsOf("proposal")); n != 0 {
		t.Fatalf("closed mirror must not be quoted, got %d", n)
	}

	release()
	waitFor(t, "mirror reconnected", func() bool {
		return p.conn("REAL") != first && c.DetailedStatistics().Mirror != nil
	})
	second := p.conn("REAL")

	p.conn("T1").push(buyEvent(t, 2, "R_100", 3, "CALL"))
	waitFor(t, "trade on new mirror", func() bool { return len(second.requestsOf("buy")) == 1 })
	if n := len(platform.requestsOf("buy")); n != 1 {
		t.Fatalf("expected primary to keep a single buy, got %d", n)
	}
	waitFor(t, "both trades counted", func() bool { return c.Status().TradesCopied == 2 })
}

func TestTransactionsWithoutIDsAreNotDeduplicated(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1", balance: 100}})
	platform := newPlatformConn()
	c := newTestController(platform, p.dial)
	if err := c.Start(context.Background(), Config{Tokens: []string{"T1"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	event := message(t, "transaction", map[string]any{
		"action":        "buy",
		"symbol":        "R_100",
		"amount":        -2,
		"contract_type": "PUT",
	}, "tx-sub")
	p.conn("T1").push(event)
	p.conn("T1").push(event)

	waitFor(t, "both trades placed", func() bool { return len(platform.requestsOf("buy")) == 2 })
	if n := c.DetailedStatistics().ProcessedTransactions; n != 0 {
		t.Fatalf("events without ids must not enter the dedupe set, got %d", n)
	}
}

func TestStartRejectsClosedPlatformSession(t *testing.T) {
	p := newFakePlatform(t, map[string]fakeAccount{"T1": {loginID: "CR1"}})
	platform := newPlatformConn()
	_ = platform.Close()
	c := newTestController(platform, p.dial)

	err := c.Start(context.Background(), Config{Tokens: []string{"T1"}})
	if !errors.Is(err, ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
	if p.dials.Load() != 0 {
		t.Fatalf("expected no dial attempts, got %d", p.dials.Load())
	}
	if c.IsRunning() {
		t.Fatalf("controller should be idle")
	}
}
