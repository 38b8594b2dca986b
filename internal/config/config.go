package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host      string
	Port      int
	UploadDir string

	LogLevel     string
	MetricsRoute string
	CORSOrigins  []string

	Heartbeat  time.Duration
	Handshake  time.Duration
	WSReadBuf  int
	WSWriteBuf int
	WSMaxMsg   int64

	// HTTP server timeouts
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Per-IP REST rate limit (0 disables)
	HTTPRatePerSec float64
	HTTPRateBurst  float64
}

func (c Config) BindAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func FromEnv() Config {
	return Config{
		Host:              getenv("HOST", "0.0.0.0"),
		Port:              getenvInt("PORT", 8080),
		UploadDir:         getenv("UPLOAD_DIR", "./uploads"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		MetricsRoute:      getenv("METRICS_ROUTE", "/metrics"),
		CORSOrigins:       splitCSV(getenv("CORS_ORIGINS", "")),
		Heartbeat:         getenvDur("WS_HEARTBEAT", 30*time.Second),
		Handshake:         getenvDur("WS_HANDSHAKE", 10*time.Second),
		WSReadBuf:         getenvInt("WS_READ_BUFFER", 32<<10),
		WSWriteBuf:        getenvInt("WS_WRITE_BUFFER", 32<<10),
		WSMaxMsg:          int64(getenvInt("WS_MAX_MSG", 1<<20)),
		ReadHeaderTimeout: getenvDur("READ_HEADER_TIMEOUT", 5*time.Second),
		WriteTimeout:      getenvDur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getenvDur("IDLE_TIMEOUT", 0),
		HTTPRatePerSec:    getenvFloat("HTTP_RATE_PER_SEC", 0),
		HTTPRateBurst:     getenvFloat("HTTP_RATE_BURST", 20),
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	if c.WSMaxMsg <= 1024 {
		return fmt.Errorf("WS_MAX_MSG too small: %d", c.WSMaxMsg)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("WS_HEARTBEAT must be >0")
	}
	return nil
}

func splitCSV(v string) []string {
	if v == "" || v == "*" {
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

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
