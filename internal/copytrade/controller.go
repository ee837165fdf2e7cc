// Package copytrade mirrors the trades of one or more source accounts onto the
// platform session (or a second, funded account) as they are opened.
package copytrade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"copytrader-go/internal/journal"
	"copytrader-go/internal/metrics"
	"copytrader-go/internal/util"
)

const (
	// DefaultConnectTimeout bounds one connection attempt from dial to subscription.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultSweepInterval is how often dropped trader connections are retried.
	DefaultSweepInterval = 30 * time.Second

	replicationTimeout = 30 * time.Second
	recentTradesLimit  = 50
)

// ControllerState is the lifecycle of the controller.
type ControllerState int

const (
	ControllerIdle ControllerState = iota
	ControllerStarting
	ControllerActive
)

func (s ControllerState) String() string {
	switch s {
	case ControllerIdle:
		return "idle"
	case ControllerStarting:
		return "starting"
	case ControllerActive:
		return "active"
	default:
		return fmt.Sprintf("ControllerState(%d)", int(s))
	}
}

// Controller owns one copy trading session at a time: the trader connections, the
// optional mirror connection, the de-duplication set and the session counters.
type Controller struct {
	platform       Conn
	dial           DialFunc
	log            zerolog.Logger
	now            func() time.Time
	connectTimeout time.Duration
	sweepInterval  time.Duration
	currency       string
	ledger         *journal.Ledger
	recorder       journal.Recorder
	replicator     *Replicator

	mu           sync.Mutex
	state        ControllerState
	session      uint64
	cfg          Config
	traders      map[string]*TraderConnection
	dropped      map[string]struct{}
	mirror       *TraderConnection
	mirrorLost   bool
	processed    map[string]struct{}
	tradesCopied int
	profit       decimal.Decimal
	startedAt    time.Time
	stopSweep    context.CancelFunc
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock injects the time source.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithJournal adds a recorder that receives every replicated trade.
func WithJournal(r journal.Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithLedger replaces the in-memory ledger backing RecentTrades.
func WithLedger(l *journal.Ledger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.ledger = l
		}
	}
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithCurrency sets the quote currency for replicated trades.
func WithCurrency(currency string) ControllerOption {
	return func(c *Controller) {
		if currency != "" {
			c.currency = currency
		}
	}
}

// NewController builds an idle controller. platform carries the primary session's
// trades; dial opens one transport per trader or mirror credential.
func NewController(platform Conn, dial DialFunc, log zerolog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		platform:       platform,
		dial:           dial,
		log:            log.With().Str("component", "copytrade").Logger(),
		now:            time.Now,
		connectTimeout: DefaultConnectTimeout,
		sweepInterval:  DefaultSweepInterval,
		currency:       DefaultCurrency,
		ledger:         journal.NewLedger(recentTradesLimit),
		traders:        make(map[string]*TraderConnection),
		dropped:        make(map[string]struct{}),
		processed:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.replicator = &Replicator{
		log:      c.log,
		now:      c.now,
		recorder: journal.Multi(c.ledger, c.recorder),
		sink:     c,
		currency: c.currency,
		timeout:  c.connectTimeout,
	}
	return c
}

// Start validates cfg, connects the mirror account (if requested) and every trader,
// and begins copying. It fails when no trader could be connected.
func (c *Controller) Start(ctx context.Context, cfg Config) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if c.platform == nil || c.dial == nil {
		return ErrConnectivity
	}
	select {
	case <-c.platform.Done():
		return fmt.Errorf("%w: platform session is closed", ErrConnectivity)
	default:
	}

	c.mu.Lock()
	if c.state != ControllerIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.state = ControllerStarting
	c.session++
	session := c.session
	c.cfg = cfg
	c.processed = make(map[string]struct{})
	c.dropped = make(map[string]struct{})
	c.tradesCopied = 0
	c.profit = decimal.Zero
	c.mu.Unlock()
	c.ledger.Reset()
	metrics.RealizedProfit.Set(0)

	var mirror *TraderConnection
	if cfg.MirrorToReal {
		var err error
		mirror, err = c.connectMirror(ctx, cfg.RealToken)
		if err != nil {
			c.abortStart(session)
			return err
		}
		// traders start streaming before all of them are connected, so the
		// mirror must already be routable
		if !c.publishMirror(session, mirror) {
			_ = mirror.Close()
			return fmt.Errorf("%w: start interrupted by stop", ErrConnectivity)
		}
		go c.watch(session, mirror)
	}

	traders := c.connectTraders(ctx, session, cfg.Tokens)
	if len(traders) == 0 {
		c.abortStart(session)
		if mirror != nil {
			_ = mirror.Close()
		}
		c.log.Error().Int("tokens", len(cfg.Tokens)).Msg("no trader connections authorized")
		return ErrNoTradersConnected
	}

	c.mu.Lock()
	if c.session != session {
		// stopped while connecting
		c.mu.Unlock()
		for _, tc := range traders {
			_ = tc.Close()
		}
		if mirror != nil {
			_ = mirror.Close()
		}
		return fmt.Errorf("%w: start interrupted by stop", ErrConnectivity)
	}
	for _, tc := range traders {
		c.traders[tc.token] = tc
	}
	c.state = ControllerActive
	c.startedAt = c.now()
	sweepCtx, cancel := context.WithCancel(context.Background())
	c.stopSweep = cancel
	connected := len(c.traders)
	c.mu.Unlock()

	metrics.ConnectedTraders.Set(float64(connected))
	for _, tc := range traders {
		go c.watch(session, tc)
	}
	go c.sweep(sweepCtx, session)

	c.log.Info().
		Int("traders", connected).
		Int("tokens", len(cfg.Tokens)).
		Bool("mirror", mirror != nil).
		Float64("multiplier", cfg.Multiplier).
		Msg("copy trading started")
	return nil
}

func (c *Controller) abortStart(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session {
		return
	}
	c.session++
	c.state = ControllerIdle
	c.cfg = Config{}
	c.processed = make(map[string]struct{})
	c.mirror = nil
	c.mirrorLost = false
}

// publishMirror makes the mirror the trade route of a session that is still starting.
func (c *Controller) publishMirror(session uint64, tc *TraderConnection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.state != ControllerStarting {
		return false
	}
	c.mirror = tc
	c.mirrorLost = false
	return true
}

func (c *Controller) connectMirror(ctx context.Context, token string) (*TraderConnection, error) {
	tc, err := openConnection(ctx, c.dial, token, c.connectTimeout, c.now, c.log, nil)
	if err != nil {
		c.log.Error().Err(err).Str("token", util.MaskToken(token)).Msg("mirror account connection failed")
		return nil, fmt.Errorf("mirror account: %w", err)
	}
	if tc.Account().Kind == AccountDemo {
		_ = tc.Close()
		return nil, fmt.Errorf("%w: mirror account %s is a demo account", ErrConfig, tc.Account().LoginID)
	}
	return tc, nil
}

// connectTraders opens every credential concurrently; failures are logged and skipped.
func (c *Controller) connectTraders(ctx context.Context, session uint64, tokens []string) []*TraderConnection {
	results := make([]*TraderConnection, len(tokens))
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			tc, err := c.connectTrader(ctx, session, token)
			if err != nil {
				c.log.Warn().Err(err).Str("token", util.MaskToken(token)).Msg("trader connection failed")
				return
			}
			results[i] = tc
		}(i, token)
	}
	wg.Wait()

	out := make([]*TraderConnection, 0, len(results))
	for _, tc := range results {
		if tc != nil {
			out = append(out, tc)
		}
	}
	return out
}

func (c *Controller) connectTrader(ctx context.Context, session uint64, token string) (*TraderConnection, error) {
	tc, err := openConnection(ctx, c.dial, token, c.connectTimeout, c.now, c.log, func(tc *TraderConnection, tx Transaction) {
		c.handleTransaction(session, tc, tx)
	})
	if err != nil {
		return nil, err
	}
	acct := tc.Account()
	c.log.Info().
		Str("token", tc.Token()).
		Str("loginid", acct.LoginID).
		Str("account_type", string(acct.Kind)).
		Float64("balance", acct.Balance).
		Msg("trader connected")
	return tc, nil
}

// watch removes a connection from the tracked set as soon as its transport closes.
func (c *Controller) watch(session uint64, tc *TraderConnection) {
	<-tc.Done()
	tc.markClosed()

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	isMirror := c.mirror == tc
	if isMirror {
		c.mirror = nil
		c.mirrorLost = true
	} else if c.traders[tc.token] == tc {
		delete(c.traders, tc.token)
		c.dropped[tc.token] = struct{}{}
	}
	connected := len(c.traders)
	c.mu.Unlock()

	metrics.ConnectedTraders.Set(float64(connected))
	c.log.Warn().Str("token", tc.Token()).Bool("mirror", isMirror).Msg("connection closed")
}

func (c *Controller) sweep(ctx context.Context, session uint64) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconnect(ctx, session)
		}
	}
}

// reconnect retries every dropped credential of the session once.
func (c *Controller) reconnect(ctx context.Context, session uint64) {
	c.mu.Lock()
	if c.session != session || c.state != ControllerActive {
		c.mu.Unlock()
		return
	}
	for token, tc := range c.traders {
		if tc.State() == StateClosed {
			delete(c.traders, token)
			c.dropped[token] = struct{}{}
		}
	}
	tokens := make([]string, 0, len(c.dropped))
	for token := range c.dropped {
		tokens = append(tokens, token)
	}
	retryMirror := c.mirrorLost && c.cfg.MirrorToReal
	realToken := c.cfg.RealToken
	c.mu.Unlock()

	if retryMirror {
		mirror, err := c.connectMirror(ctx, realToken)
		if err != nil {
			c.log.Warn().Err(err).Msg("mirror reconnect failed")
		} else if c.adoptMirror(session, mirror) {
			go c.watch(session, mirror)
			c.log.Info().Str("token", mirror.Token()).Msg("mirror reconnected")
		}
	}

	for _, token := range tokens {
		if ctx.Err() != nil {
			return
		}
		tc, err := c.connectTrader(ctx, session, token)
		if err != nil {
			c.log.Warn().Err(err).Str("token", util.MaskToken(token)).Msg("trader reconnect failed")
			continue
		}
		if !c.adoptTrader(session, tc) {
			_ = tc.Close()
			return
		}
		go c.watch(session, tc)
	}
}

func (c *Controller) adoptTrader(session uint64, tc *TraderConnection) bool {
	c.mu.Lock()
	if c.session != session || c.state != ControllerActive {
		c.mu.Unlock()
		return false
	}
	delete(c.dropped, tc.token)
	c.traders[tc.token] = tc
	connected := len(c.traders)
	c.mu.Unlock()
	metrics.ConnectedTraders.Set(float64(connected))
	return true
}

func (c *Controller) adoptMirror(session uint64, tc *TraderConnection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.state != ControllerActive {
		_ = tc.Close()
		return false
	}
	c.mirror = tc
	c.mirrorLost = false
	return true
}

// handleTransaction runs on the source connection's read goroutine, so filtering and
// de-duplication happen in delivery order. Placement runs on its own goroutine.
func (c *Controller) handleTransaction(session uint64, source *TraderConnection, tx Transaction) {
	if !tx.IsNewPosition() {
		metrics.TransactionsTotal.WithLabelValues("ignored").Inc()
		return
	}

	c.mu.Lock()
	if c.session != session || c.state == ControllerIdle {
		c.mu.Unlock()
		return
	}
	cfg := c.cfg
	if !ShouldCopy(tx, cfg) {
		c.mu.Unlock()
		metrics.TransactionsTotal.WithLabelValues("filtered").Inc()
		c.log.Debug().Str("token", source.Token()).Int64("transaction_id", tx.TransactionID).Str("symbol", tx.Symbol).Msg("transaction filtered")
		return
	}
	if id := tx.key(); id != "" {
		key := source.token + ":" + id
		if _, seen := c.processed[key]; seen {
			c.mu.Unlock()
			metrics.TransactionsTotal.WithLabelValues("duplicate").Inc()
			return
		}
		c.processed[key] = struct{}{}
	}
	target, route := c.platform, RoutePrimary
	if cfg.MirrorToReal && c.mirror != nil && c.mirror.State().Live() {
		target, route = c.mirror.Conn(), RouteMirror
	}
	c.mu.Unlock()

	metrics.TransactionsTotal.WithLabelValues("accepted").Inc()
	job := replication{session: session, target: target, route: route, source: source, tx: tx, cfg: cfg}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), replicationTimeout)
		defer cancel()
		_ = c.replicator.replicate(ctx, job)
	}()
}

func (c *Controller) tradePlaced(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.state == ControllerIdle {
		return false
	}
	c.tradesCopied++
	return true
}

func (c *Controller) profitRealized(session uint64, profit float64) {
	c.mu.Lock()
	if c.session != session || c.state == ControllerIdle {
		c.mu.Unlock()
		return
	}
	c.profit = c.profit.Add(decimal.NewFromFloat(profit))
	total := c.profit.InexactFloat64()
	c.mu.Unlock()
	metrics.RealizedProfit.Set(total)
}

// Stop ends the session: every transport is closed and all session state is reset.
// Close failures are reported in the result, never raised.
func (c *Controller) Stop() StopResult {
	c.mu.Lock()
	if c.state == ControllerIdle {
		c.mu.Unlock()
		return StopResult{Success: true, Message: "copy trading is not active"}
	}
	c.session++
	if c.stopSweep != nil {
		c.stopSweep()
		c.stopSweep = nil
	}
	conns := make([]*TraderConnection, 0, len(c.traders)+1)
	for _, tc := range c.traders {
		conns = append(conns, tc)
	}
	if c.mirror != nil {
		conns = append(conns, c.mirror)
	}
	c.traders = make(map[string]*TraderConnection)
	c.dropped = make(map[string]struct{})
	c.processed = make(map[string]struct{})
	c.mirror = nil
	c.mirrorLost = false
	c.cfg = Config{}
	c.tradesCopied = 0
	c.profit = decimal.Zero
	c.startedAt = time.Time{}
	c.state = ControllerIdle
	c.mu.Unlock()

	metrics.ConnectedTraders.Set(0)
	metrics.RealizedProfit.Set(0)

	var errs []error
	for _, tc := range conns {
		if err := tc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tc.Token(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.log.Warn().Err(err).Msg("copy trading stopped with close errors")
		return StopResult{Success: false, Message: fmt.Sprintf("copy trading stopped with errors: %v", err)}
	}
	c.log.Info().Int("connections", len(conns)).Msg("copy trading stopped")
	return StopResult{Success: true, Message: "copy trading stopped"}
}

// Status returns the session summary. It is safe to call at any time.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		IsActive:         c.state == ControllerActive,
		State:            c.state.String(),
		ConnectedTraders: len(c.traders),
		TradesCopied:     c.tradesCopied,
		TotalProfit:      c.profit.InexactFloat64(),
		MirrorToReal:     c.cfg.MirrorToReal,
	}
}

// DetailedStatistics returns Status plus connection and trade detail.
func (c *Controller) DetailedStatistics() Statistics {
	c.mu.Lock()
	stats := Statistics{
		Status:                c.statusLocked(),
		ProcessedTransactions: len(c.processed),
		Traders:               c.tradersLocked(),
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		stats.StartedAt = &started
		stats.UptimeSeconds = c.now().Sub(started).Seconds()
	}
	if c.mirror != nil {
		info := c.mirror.Info()
		stats.Mirror = &info
	}
	if c.state != ControllerIdle {
		redacted := c.cfg.Redacted()
		stats.Config = &redacted
	}
	c.mu.Unlock()

	stats.RecentTrades = c.ledger.Snapshot()
	return stats
}

// ConnectedTraders lists the tracked trader connections in configuration order.
func (c *Controller) ConnectedTraders() []TraderInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tradersLocked()
}

func (c *Controller) tradersLocked() []TraderInfo {
	out := make([]TraderInfo, 0, len(c.traders))
	for _, token := range c.cfg.Tokens {
		if tc, ok := c.traders[token]; ok {
			out = append(out, tc.Info())
		}
	}
	return out
}

// IsRunning reports whether a session is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ControllerActive
}
