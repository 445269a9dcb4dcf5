// Package config reads server settings from the environment. The
// server binary loads a .env file first, so development settings live
// next to the checkout.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr string // host:port to serve on

	MongoURI string // empty: keep everything in memory
	MongoDB  string

	RedisAddr string // empty: no cross-node relay

	JWTSecret string

	HeartbeatInterval time.Duration
	LogRetention      int           // entries kept in memory per document
	CompactInterval   time.Duration // how often to snapshot and trim
}

// FromEnv builds a Config from environment variables, applying
// defaults for everything but the JWT secret.
func FromEnv() (Config, error) {
	c := Config{
		Addr:              getenv("COWRITE_ADDR", "127.0.0.1:8080"),
		MongoURI:          os.Getenv("COWRITE_MONGO_URI"),
		MongoDB:           getenv("COWRITE_MONGO_DB", "cowrite"),
		RedisAddr:         os.Getenv("COWRITE_REDIS_ADDR"),
		JWTSecret:         os.Getenv("COWRITE_JWT_SECRET"),
		HeartbeatInterval: 15 * time.Second,
		LogRetention:      1000,
		CompactInterval:   30 * time.Second,
	}
	if c.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: COWRITE_JWT_SECRET is required")
	}

	if v := os.Getenv("COWRITE_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: COWRITE_HEARTBEAT_INTERVAL: %w", err)
		}
		c.HeartbeatInterval = d
	}
	if v := os.Getenv("COWRITE_LOG_RETENTION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: COWRITE_LOG_RETENTION must be a non-negative integer")
		}
		c.LogRetention = n
	}
	if v := os.Getenv("COWRITE_COMPACT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: COWRITE_COMPACT_INTERVAL: %w", err)
		}
		c.CompactInterval = d
	}
	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
