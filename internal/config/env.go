package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets in the YAML file.
const (
	EnvAPIToken      = "DERIV_API_TOKEN"
	EnvTraderTokens  = "COPY_TRADER_TOKENS"
	EnvRealToken     = "COPY_REAL_TOKEN"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvAuthUsername  = "AUTH_USERNAME"
	EnvAuthPassword  = "AUTH_PASSWORD"
)

// LoadEnv reads .env files into the process environment; missing files are ignored.
func LoadEnv(paths ...string) {
	_ = godotenv.Load(paths...) // best-effort
}

// ApplyEnv overrides secrets from the environment. COPY_TRADER_TOKENS is a comma
// separated list.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.Deriv.APIToken = v
	}
	if v := os.Getenv(EnvTraderTokens); v != "" {
		var tokens []string
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
		cfg.Copy.Tokens = tokens
	}
	if v := os.Getenv(EnvRealToken); v != "" {
		cfg.Copy.RealToken = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv(EnvAuthUsername); v != "" {
		cfg.HTTP.Username = v
	}
	if v := os.Getenv(EnvAuthPassword); v != "" {
		cfg.HTTP.Password = v
	}
}
