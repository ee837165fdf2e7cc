package copytrade

import (
	"errors"

	"copytrader-go/internal/derivws"
)

var (
	// ErrConfig reports a missing or invalid configuration.
	ErrConfig = errors.New("invalid copy trading configuration")
	// ErrConnectivity reports that no platform connection is available.
	ErrConnectivity = errors.New("platform connection unavailable")
	// ErrAuthorization reports a login rejected by the platform.
	ErrAuthorization = errors.New("authorization rejected")
	// ErrNoTradersConnected reports that every trader login failed.
	ErrNoTradersConnected = errors.New("no traders could be connected")
	// ErrQuote reports a rejected price proposal.
	ErrQuote = errors.New("quote rejected")
	// ErrPurchase reports a rejected buy.
	ErrPurchase = errors.New("purchase rejected")
	// ErrSubscription reports a rejected stream subscription.
	ErrSubscription = errors.New("subscription rejected")
	// ErrAlreadyActive is returned by Start while a session is running.
	ErrAlreadyActive = errors.New("copy trading already active")
	// ErrStakeOutOfBounds is returned when scaled-stake re-validation rejects a trade.
	ErrStakeOutOfBounds = errors.New("scaled stake outside configured bounds")

	// ErrRequestTimeout is returned when a call is not answered in time.
	ErrRequestTimeout = derivws.ErrRequestTimeout
)
