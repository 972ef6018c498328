// Package config loads the relay's runtime configuration from the
// environment, with a small flag set for local overrides.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carelink-health/signaling-relay/internal/origin"
)

const (
	envVarPort           = "PORT"
	envVarListenAddr     = "SIGNALING_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins = "ALLOWED_ORIGINS"
	envVarMode           = "MODE"
	envVarLogFormat      = "LOG_FORMAT"
	envVarLogLevel       = "LOG_LEVEL"
	envVarShutdown       = "SHUTDOWN_TIMEOUT"

	envVarWSIdleTimeout        = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	envVarSendBufferMessages   = "SEND_BUFFER_MESSAGES"

	envVarRelayValidation = "RELAY_VALIDATION"
	envVarWaitingRoomTTL  = "WAITING_ROOM_TTL"
)

const (
	// DefaultPort keeps parity with the frontend's development proxy target.
	DefaultPort     = 5000
	DefaultShutdown = 15 * time.Second

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024) // enough for any SDP
	DefaultMaxMessagesPerSecond = 50
	DefaultSendBufferMessages   = 32

	DefaultMode Mode = ModeDev
)

// defaultAllowedOrigins is the out-of-the-box allow-list: local dev hosts for
// the web frontend plus the RFC 1918 ranges so LAN devices can reach a
// clinic-hosted relay during testing.
var defaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:3000",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// ValidationMode controls how much the relay inspects signaling traffic.
//
// Permissive is the lenient default: malformed or partial messages degrade
// to no-ops and relays are not checked against room membership. Strict
// requires senders to be members of the room they relay
// into and payloads to be structurally valid SDP/ICE.
type ValidationMode string

const (
	ValidationPermissive ValidationMode = "permissive"
	ValidationStrict     ValidationMode = "strict"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// WebSocket connection hardening.
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendBufferMessages   int

	RelayValidation ValidationMode

	// WaitingRoomTTL evicts a lone waiting participant after this long.
	// Zero disables eviction: a waiter persists until it disconnects or a
	// peer arrives.
	WaitingRoomTTL time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr, err := resolveListenAddr(lookup)
	if err != nil {
		return Config{}, err
	}

	mode := DefaultMode
	if raw, ok := lookup(envVarMode); ok && strings.TrimSpace(raw) != "" {
		mode, err = parseMode(raw)
		if err != nil {
			return Config{}, err
		}
	}

	logFormat := defaultLogFormatForMode(mode)
	if raw, ok := lookup(envVarLogFormat); ok && strings.TrimSpace(raw) != "" {
		logFormat, err = parseLogFormat(raw)
		if err != nil {
			return Config{}, err
		}
	}

	logLevel := defaultLogLevelForMode(mode)
	if raw, ok := lookup(envVarLogLevel); ok && strings.TrimSpace(raw) != "" {
		logLevel, err = parseLogLevel(raw)
		if err != nil {
			return Config{}, err
		}
	}

	allowedOrigins := append([]string(nil), defaultAllowedOrigins...)
	if raw, ok := lookup(envVarAllowedOrigins); ok && strings.TrimSpace(raw) != "" {
		allowedOrigins, err = parseAllowedOrigins(raw)
		if err != nil {
			return Config{}, err
		}
	}

	shutdown, err := envDurationOrDefault(lookup, envVarShutdown, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	wsIdle, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPing, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	waitingTTL, err := envDurationOrDefault(lookup, envVarWaitingRoomTTL, 0)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendBuffer, err := envIntOrDefault(lookup, envVarSendBufferMessages, DefaultSendBufferMessages)
	if err != nil {
		return Config{}, err
	}

	validation := ValidationPermissive
	if raw, ok := lookup(envVarRelayValidation); ok && strings.TrimSpace(raw) != "" {
		validation, err = parseValidationMode(raw)
		if err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdown,

		WSIdleTimeout:        wsIdle,
		WSPingInterval:       wsPing,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		SendBufferMessages:   sendBuffer,

		RelayValidation: validation,
		WaitingRoomTTL:  waitingTTL,
	}

	fs := flag.NewFlagSet("signaling-relay", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address to listen on (host:port)")
	logLevelFlag := fs.String("log-level", "", "log level override (debug, info, warn, error)")
	validationFlag := fs.String("relay-validation", "", "relay validation override (permissive, strict)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if *logLevelFlag != "" {
		cfg.LogLevel, err = parseLogLevel(*logLevelFlag)
		if err != nil {
			return Config{}, err
		}
	}
	if *validationFlag != "" {
		cfg.RelayValidation, err = parseValidationMode(*validationFlag)
		if err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	}
	if c.WSPingInterval > 0 && c.WSIdleTimeout > 0 && c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			envVarWSPingInterval, c.WSPingInterval, envVarWSIdleTimeout, c.WSIdleTimeout)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	if c.SendBufferMessages <= 0 {
		return fmt.Errorf("%s must be positive", envVarSendBufferMessages)
	}
	if c.WaitingRoomTTL < 0 {
		return fmt.Errorf("%s must not be negative", envVarWaitingRoomTTL)
	}
	return nil
}

func resolveListenAddr(lookup func(string) (string, bool)) (string, error) {
	if raw, ok := lookup(envVarListenAddr); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw), nil
	}

	port := DefaultPort
	if raw, ok := lookup(envVarPort); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 || n > 65535 {
			return "", fmt.Errorf("invalid %s %q", envVarPort, raw)
		}
		port = n
	}
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(port)), nil
}

// NewLogger builds the process logger from the loaded configuration.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode Mode) LogFormat {
	if mode == ModeProd {
		return LogFormatJSON
	}
	return LogFormatText
}

func defaultLogLevelForMode(mode Mode) slog.Level {
	if mode == ModeProd {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected dev or prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected text or json)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid %s %q (expected debug, info, warn, error)", envVarLogLevel, raw)
	}
}

func parseValidationMode(raw string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ValidationPermissive):
		return ValidationPermissive, nil
	case string(ValidationStrict):
		return ValidationStrict, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected permissive or strict)", envVarRelayValidation, raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" || entry == "null" {
			out = append(out, entry)
			continue
		}

		if _, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, entry)
			continue
		}

		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected an origin like https://example.com or a CIDR like 192.168.0.0/16)", entry)
		}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s set but contains no entries", envVarAllowedOrigins)
	}
	return out, nil
}
