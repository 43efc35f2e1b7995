package config

import (
	"strings"
	"time"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment         string
	Addr                string
	DatabaseURL         string
	JWTSecret           string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	StoreTimeout        time.Duration
	AllowedOrigins      []string
	TokenPruneInterval  time.Duration
	TokenPruneRetention time.Duration
	ShutdownTimeout     time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":8080"),
		DatabaseURL:         GetString("DATABASE_URL", ""),
		JWTSecret:           GetString("JWT_SECRET", ""),
		AccessTokenTTL:      GetDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:     GetDuration("REFRESH_TOKEN_TTL", 168*time.Hour),
		StoreTimeout:        GetDuration("STORE_TIMEOUT", 5*time.Second),
		AllowedOrigins:      splitList(GetString("ALLOWED_ORIGINS", "*")),
		TokenPruneInterval:  GetDuration("TOKEN_PRUNE_INTERVAL", time.Hour),
		TokenPruneRetention: GetDuration("TOKEN_PRUNE_RETENTION", 720*time.Hour),
		ShutdownTimeout:     GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
