// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/log"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "REELSTREAM_"

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "secret") || strings.Contains(k, "password") || strings.Contains(k, "token")
}

func logSource(logger zerolog.Logger, key string, value any) {
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
		return
	}
	ev.Interface("value", value).Msg("using environment variable")
}

// ParseString reads key or returns def when unset or empty.
func ParseString(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logSource(log.WithComponent("config"), key, v)
	return v
}

// ParseInt reads an integer, falling back to def on parse errors.
func ParseInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("invalid integer in environment variable, using default")
		return def
	}
	logSource(logger, key, i)
	return i
}

// ParseFloat reads a float, falling back to def on parse errors.
func ParseFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("default", def).Msg("invalid float in environment variable, using default")
		return def
	}
	logSource(logger, key, f)
	return f
}

// ParseDuration reads a Go duration ("5s"), falling back to def on parse errors.
func ParseDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("invalid duration in environment variable, using default")
		return def
	}
	logSource(logger, key, d.String())
	return d
}

// ParseBool accepts true/false, 1/0 and yes/no.
func ParseBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	logger := log.WithComponent("config")
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		logSource(logger, key, true)
		return true
	case "false", "0", "no":
		logSource(logger, key, false)
		return false
	}
	logger.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("invalid boolean in environment variable, using default")
	return def
}
