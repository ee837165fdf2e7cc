package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Auth holds optional basic auth credentials.
type Auth struct {
	Username string
	Password string
}

// NewRouter wires every route. /healthz is left outside authentication.
func NewRouter(h *Handler, auth Auth, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))

	r.GET("/healthz", h.Health)

	api := r.Group("/api", BasicAuth(auth.Username, auth.Password))
	api.POST("/copy/start", h.StartCopying)
	api.POST("/copy/stop", h.StopCopying)
	api.GET("/copy/status", h.GetStatus)
	api.GET("/copy/statistics", h.GetStatistics)
	api.GET("/copy/traders", h.GetTraders)
	api.GET("/copy/running", h.GetRunning)
	api.GET("/tokens", h.GetTokens)
	api.PUT("/tokens", h.PutTokens)
	api.GET("/signals", h.GetSignals)
	return r
}
