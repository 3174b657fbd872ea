package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server  ServerConfig
	WebRTC  WebRTCConfig
	Session SessionConfig
}

// ServerConfig holds HTTP/WS listener settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// WebRTCConfig holds the STUN server list shared by publisher and consumer peers.
// No TURN relay is configured; the core spec does not require one.
type WebRTCConfig struct {
	STUNUrls []string
}

// SessionConfig holds the Session Controller's tunables: heartbeat cadence
// and the bounded retry used while waiting for a publisher's inbound track.
type SessionConfig struct {
	PingInterval         time.Duration
	PongWait             time.Duration
	OutboundBufferSize   int
	TrackPollMaxAttempts int
	TrackPollInterval    time.Duration
}

// Load reads configuration from environment, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()    // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		WebRTC: WebRTCConfig{
			STUNUrls: splitTrim(getEnv("SFU_STUN_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		Session: SessionConfig{
			PingInterval:         time.Duration(getEnvInt("SESSION_PING_INTERVAL_SEC", 30)) * time.Second,
			PongWait:             time.Duration(getEnvInt("SESSION_PONG_WAIT_SEC", 60)) * time.Second,
			OutboundBufferSize:   getEnvInt("SESSION_OUTBOUND_BUFFER", 256),
			TrackPollMaxAttempts: getEnvInt("SFU_TRACK_POLL_MAX_ATTEMPTS", 30),
			TrackPollInterval:    time.Duration(getEnvInt("SFU_TRACK_POLL_INTERVAL_MS", 100)) * time.Millisecond,
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
