package utils

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileExists checks if a file exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// FindAvailableAPIPort finds an available port for the API server, starting
// at from.
func FindAvailableAPIPort(from int) int {
	port := from
	for {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			listener.Close()
			return port
		}
		port++
	}
}

// ClientIP is the first X-Forwarded-For entry, or "unknown". The service
// runs behind a proxy, so the socket address is never used.
func ClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return "unknown"
	}
	ip := strings.TrimSpace(strings.Split(forwarded, ",")[0])
	if ip == "" {
		return "unknown"
	}
	return ip
}

// NewLogger builds a JSON production logger, or a console development
// logger when format is "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
