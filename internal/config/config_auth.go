package config

import "time"

// AuthConfig configures API-key authentication for cmd/conductor's HTTP/gRPC surface.
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig binds a static API key to a caller identity.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
}
