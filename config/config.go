package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the server reads from the environment.
// Timings default to the values the game was balanced around; override
// them per deployment, not per room.
type Config struct {
	Addr           string
	AllowedOrigins []string
	StorageFile    string

	RoomTTL         time.Duration
	SweepInterval   time.Duration
	DisconnectGrace time.Duration

	RoundDuration time.Duration
	TickInterval  time.Duration
	RevealPause   time.Duration
	PingInterval  time.Duration

	// TiePolicy is "none" (a tied round scores nobody) or "both"
	// (a tied round gives each player a point).
	TiePolicy string

	Debug bool
}

func Load() Config {
	return Config{
		Addr:           env("ADDR", ":5000"),
		AllowedOrigins: split(os.Getenv("ALLOWED_ORIGINS")),
		StorageFile:    env("ROOM_STORAGE_FILE", "rooms_data.json"),

		RoomTTL:         duration("ROOM_TTL", 24*time.Hour),
		SweepInterval:   duration("SWEEP_INTERVAL", time.Minute),
		DisconnectGrace: duration("DISCONNECT_GRACE", 5*time.Second),

		RoundDuration: duration("ROUND_DURATION", 4*time.Second),
		TickInterval:  duration("TICK_INTERVAL", 250*time.Millisecond),
		RevealPause:   duration("REVEAL_PAUSE", 1500*time.Millisecond),
		PingInterval:  duration("PING_INTERVAL", 30*time.Second),

		TiePolicy: env("TIE_POLICY", "none"),

		Debug: boolean("DEBUG", false),
	}
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func boolean(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func split(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
