package main

import (
	"os"
	"strconv"
	"time"
)

// config is read once at startup from environment variables, with
// defaults applied the way the teacher's module.go Provision applies
// Caddyfile defaults.
type config struct {
	Host             string
	Port             int
	DataDir          string
	Backend          string
	Prefix           string
	MaxFileHandles   int
	SubscriberBuffer int
	SSEKeepalive     time.Duration
}

func loadConfig() config {
	_, dataDirSet := os.LookupEnv("DATA_DIR")
	defaultBackend := "memory"
	if dataDirSet {
		defaultBackend = "file"
	}

	cfg := config{
		Host:             envOr("HOST", "0.0.0.0"),
		Port:             envIntOr("PORT", 8080),
		DataDir:          envOr("DATA_DIR", "./data"),
		Backend:          envOr("STREAMS_BACKEND", defaultBackend),
		Prefix:           envOr("STREAMS_PREFIX", "/agents"),
		MaxFileHandles:   envIntOr("STREAMS_MAX_FILE_HANDLES", 128),
		SubscriberBuffer: envIntOr("STREAMS_SUBSCRIBER_BUFFER", 256),
		SSEKeepalive:     envDurationOr("STREAMS_SSE_KEEPALIVE", 25*time.Second),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
