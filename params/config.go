package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	ListenAddr string   // libp2p multiaddr, empty = random TCP port
	Bootstrap  []string // full /p2p/ multiaddrs of known peers
	MDNS       bool     // advertise and browse peers on the LAN

	// AnnounceInterval is how often an open offer's registration is refreshed.
	// AnnounceTTL must comfortably exceed it or announcements flap.
	AnnounceInterval time.Duration
	AnnounceTTL      time.Duration

	RequestTimeout time.Duration // bound on one offer's whole probe
	ProbeRetries   int           // extra probe rounds after a BUSY reply
	ProbeBackoff   time.Duration

	// ShutdownGrace lets the discovery network settle after teardown.
	ShutdownGrace time.Duration

	InboundRateLimit int // inbound match requests per second, 0 = unlimited
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Node        Node
	API         API
	Log         Log
	JournalPath string // pebble directory; empty keeps the match journal in memory
}

func Default() Config {
	return Config{
		Node: Node{
			AnnounceInterval: 100 * time.Millisecond,
			AnnounceTTL:      time.Second,
			RequestTimeout:   10 * time.Second,
			ProbeRetries:     5,
			ProbeBackoff:     150 * time.Millisecond,
			ShutdownGrace:    500 * time.Millisecond,
			InboundRateLimit: 200,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Log: Log{
			File:  "data/node.log",
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.ListenAddr = getEnv("LISTEN", cfg.Node.ListenAddr)
	if bs := os.Getenv("BOOTSTRAP"); bs != "" {
		cfg.Node.Bootstrap = splitList(bs)
	}
	if v := os.Getenv("MDNS"); v != "" {
		cfg.Node.MDNS = v == "true"
	}

	cfg.Node.AnnounceInterval = getEnvMillis("ANNOUNCE_INTERVAL_MS", cfg.Node.AnnounceInterval)
	cfg.Node.AnnounceTTL = getEnvMillis("ANNOUNCE_TTL_MS", cfg.Node.AnnounceTTL)
	cfg.Node.RequestTimeout = getEnvMillis("REQUEST_TIMEOUT_MS", cfg.Node.RequestTimeout)
	cfg.Node.ProbeBackoff = getEnvMillis("PROBE_BACKOFF_MS", cfg.Node.ProbeBackoff)
	cfg.Node.ShutdownGrace = getEnvMillis("SHUTDOWN_GRACE_MS", cfg.Node.ShutdownGrace)
	cfg.Node.ProbeRetries = getEnvInt("PROBE_RETRIES", cfg.Node.ProbeRetries)
	cfg.Node.InboundRateLimit = getEnvInt("INBOUND_RATE_LIMIT", cfg.Node.InboundRateLimit)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.JournalPath = getEnv("JOURNAL_PATH", cfg.JournalPath)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
