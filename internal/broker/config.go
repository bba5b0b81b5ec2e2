package broker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the broker's environment-driven configuration surface (spec
// §6). Every field maps to one of the enumerated env vars; ConfigFromEnv fills
// in the teacher's documented defaults for anything unset.
type Config struct {
	Port            string
	Host            string
	FrontendBaseURL string

	RoomTTL          time.Duration
	CleanupInterval  time.Duration
	MaxJSONBodyBytes int64

	RESTRateLimitWindowMs int64
	RESTRateLimitMax      int

	WSRateLimitWindowMs int64
	WSRateLimitMax      int

	TurnURLs         []string
	TurnSharedSecret string
	TurnTTLSeconds   int

	CORSOrigins []string
}

// DefaultConfig mirrors the teacher's os.Getenv-with-fallback style
// (webrtc/videoconference.go's coturnSecret/coturnTTL), generalized to the
// full broker env surface spec §6 enumerates.
func DefaultConfig() Config {
	return Config{
		Port:            "8080",
		Host:            "0.0.0.0",
		FrontendBaseURL: "http://localhost:8080",

		RoomTTL:          DefaultTTL,
		CleanupInterval:  30 * time.Second,
		MaxJSONBodyBytes: 16 * 1024,

		RESTRateLimitWindowMs: 60_000,
		RESTRateLimitMax:      30,

		WSRateLimitWindowMs: 60_000,
		WSRateLimitMax:      10,

		TurnURLs:         nil,
		TurnSharedSecret: "",
		TurnTTLSeconds:   3600,

		CORSOrigins: []string{"*"},
	}
}

// ConfigFromEnv builds a Config from process environment variables,
// falling back to DefaultConfig for anything unset or malformed.
func ConfigFromEnv() Config {
	c := DefaultConfig()

	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("FRONTEND_BASE_URL"); v != "" {
		c.FrontendBaseURL = v
	}

	if v := envInt("ROOM_TTL_SECONDS"); v > 0 {
		c.RoomTTL = time.Duration(v) * time.Second
	}
	if v := envInt("CLEANUP_INTERVAL_MS"); v > 0 {
		c.CleanupInterval = time.Duration(v) * time.Millisecond
	}
	if v := envInt("MAX_JSON_BODY_BYTES"); v > 0 {
		c.MaxJSONBodyBytes = int64(v)
	}

	if v := envInt("REST_RATE_LIMIT_WINDOW_MS"); v > 0 {
		c.RESTRateLimitWindowMs = int64(v)
	}
	if v := envInt("REST_RATE_LIMIT_MAX"); v > 0 {
		c.RESTRateLimitMax = v
	}
	if v := envInt("WS_RATE_LIMIT_WINDOW_MS"); v > 0 {
		c.WSRateLimitWindowMs = int64(v)
	}
	if v := envInt("WS_RATE_LIMIT_MAX"); v > 0 {
		c.WSRateLimitMax = v
	}

	if v := os.Getenv("TURN_URLS"); v != "" {
		c.TurnURLs = splitNonEmpty(v)
	}
	if v := os.Getenv("TURN_SHARED_SECRET"); v != "" {
		c.TurnSharedSecret = v
	}
	if v := envInt("TURN_TTL_SECONDS"); v > 0 {
		c.TurnTTLSeconds = v
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitNonEmpty(v)
	}

	return c
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func splitNonEmpty(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
