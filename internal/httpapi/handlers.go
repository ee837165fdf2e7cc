// Package httpapi is the UI layer: a JSON API over the copy trading controller, the
// remembered token list and the signal widget.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"copytrader-go/internal/copytrade"
	"copytrader-go/internal/signal"
	"copytrader-go/internal/widget"
)

// CopyTrader is the controller surface exposed to the UI.
type CopyTrader interface {
	Start(ctx context.Context, cfg copytrade.Config) error
	Stop() copytrade.StopResult
	Status() copytrade.Status
	DetailedStatistics() copytrade.Statistics
	ConnectedTraders() []copytrade.TraderInfo
	IsRunning() bool
}

// TokenStore remembers the trader token list between sessions.
type TokenStore interface {
	Tokens(ctx context.Context) ([]string, error)
	SaveTokens(ctx context.Context, tokens []string) error
}

// SignalSource exposes the signal widget.
type SignalSource interface {
	Signals() []signal.Signal
	Stats() widget.Stats
}

// Handler handles HTTP requests.
type Handler struct {
	copier  CopyTrader
	tokens  TokenStore
	signals SignalSource
	log     zerolog.Logger
}

// NewHandler creates a new handler. tokens and signals may be nil.
func NewHandler(copier CopyTrader, tokens TokenStore, signals SignalSource, log zerolog.Logger) *Handler {
	return &Handler{copier: copier, tokens: tokens, signals: signals, log: log.With().Str("component", "httpapi").Logger()}
}

// startStatus maps a Start failure to an HTTP status.
func startStatus(err error) int {
	switch {
	case errors.Is(err, copytrade.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, copytrade.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, copytrade.ErrConnectivity):
		return http.StatusServiceUnavailable
	case errors.Is(err, copytrade.ErrNoTradersConnected), errors.Is(err, copytrade.ErrAuthorization):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StartCopying starts a session with the posted configuration and remembers its tokens.
func (h *Handler) StartCopying(c *gin.Context) {
	var cfg copytrade.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid configuration: " + err.Error()})
		return
	}
	if err := h.copier.Start(c.Request.Context(), cfg); err != nil {
		h.log.Warn().Err(err).Msg("start rejected")
		c.JSON(startStatus(err), gin.H{"success": false, "message": err.Error()})
		return
	}
	if h.tokens != nil {
		if err := h.tokens.SaveTokens(c.Request.Context(), cfg.Tokens); err != nil {
			h.log.Warn().Err(err).Msg("failed to remember tokens")
		}
	}
	status := h.copier.Status()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "copy trading started",
		"status":  status,
	})
}

// StopCopying ends the session; close failures come back as success=false.
func (h *Handler) StopCopying(c *gin.Context) {
	c.JSON(http.StatusOK, h.copier.Stop())
}

// GetStatus returns the session summary.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.copier.Status())
}

// GetStatistics returns the detailed statistics.
func (h *Handler) GetStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.copier.DetailedStatistics())
}

// GetTraders lists connected traders.
func (h *Handler) GetTraders(c *gin.Context) {
	traders := h.copier.ConnectedTraders()
	c.JSON(http.StatusOK, gin.H{"traders": traders, "count": len(traders)})
}

// GetRunning reports whether a session is active.
func (h *Handler) GetRunning(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.copier.IsRunning()})
}

type tokensBody struct {
	Tokens []string `json:"tokens"`
}

// GetTokens returns the remembered token list.
func (h *Handler) GetTokens(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusOK, gin.H{"tokens": []string{}})
		return
	}
	tokens, err := h.tokens.Tokens(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("load tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// PutTokens replaces the remembered token list.
func (h *Handler) PutTokens(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "token storage disabled"})
		return
	}
	var body tokensBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.tokens.SaveTokens(c.Request.Context(), body.Tokens); err != nil {
		h.log.Error().Err(err).Msg("save tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save tokens"})
		return
	}
	tokens, err := h.tokens.Tokens(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// GetSignals returns the recent signals, newest first.
func (h *Handler) GetSignals(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal widget disabled"})
		return
	}
	signals := h.signals.Signals()
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals), "widget": h.signals.Stats()})
}

// Health is a liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
