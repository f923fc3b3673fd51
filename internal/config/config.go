/*
Copyright 2025 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config is the environment-driven configuration surface spec.md
// §6 names: database URL, token TTLs, cookie security, CORS origins,
// listen port, debug flag, password-strength toggle. Everything else
// (pagination limits, query minimums) is a constant, not configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven setting the chatserver binary
// needs at startup.
type Config struct {
	DatabaseURL  string
	Port         string
	Debug        bool
	CookieSecure bool
	CORSOrigins  []string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	JWTSecret       string

	PasswordStrengthCheck bool

	PGMaxConns        int32
	PGMinConns        int32
	PGMaxConnLifetime time.Duration
	PGMaxConnIdleTime time.Duration

	// RedisAddrs configures the optional cross-process event relay (C6's
	// horizontal fan-out hook). Empty means single-process: no relay is
	// constructed and Broadcast never leaves the local gateway.
	RedisAddrs []string
}

// Default pool tunables, used when the corresponding env var is absent or
// unparsable.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	defaultPGMaxConns        = 25
	defaultPGMinConns        = 5
	defaultPGMaxConnLifetime = time.Hour
	defaultPGMaxConnIdleTime = 30 * time.Minute
)

// FromEnv reads Config from the process environment, applying the same
// defaults the teacher's session-api binary uses for pool tunables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		Port:                   envOr("PORT", "8080"),
		Debug:                  envBool("DEBUG"),
		CookieSecure:           envBool("COOKIE_SECURE"),
		CORSOrigins:            envList("CORS_ORIGINS"),
		AccessTokenTTL:         envDuration("ACCESS_TOKEN_TTL", DefaultAccessTokenTTL),
		RefreshTokenTTL:        envDuration("REFRESH_TOKEN_TTL", DefaultRefreshTokenTTL),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		PasswordStrengthCheck:  envBool("PASSWORD_STRENGTH_CHECK"),
		PGMaxConns:             envInt32("PG_MAX_CONNS", defaultPGMaxConns),
		PGMinConns:             envInt32("PG_MIN_CONNS", defaultPGMinConns),
		PGMaxConnLifetime:      envDuration("PG_MAX_CONN_LIFETIME", defaultPGMaxConnLifetime),
		PGMaxConnIdleTime:      envDuration("PG_MAX_CONN_IDLE_TIME", defaultPGMaxConnIdleTime),
		RedisAddrs:             envList("REDIS_ADDRS"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	return os.Getenv(key) == "true"
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt32(key string, def int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
