package main

import (
	"log/slog"

	"github.com/carelink-health/signaling-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any browser origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.RelayValidation == config.ValidationPermissive {
		logger.Warn("startup security warning: RELAY_VALIDATION=permissive forwards unvalidated payloads from non-members while --mode=prod",
			"warning_code", "relay_validation_permissive_in_prod",
			"relay_validation", cfg.RelayValidation,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd {
		// /rooms lists room ids and connection identities without auth. That is
		// fine on a LAN deployment behind a reverse proxy, not on the internet.
		logger.Warn("startup security warning: GET /rooms exposes room membership without authentication (restrict at the proxy in production)",
			"warning_code", "rooms_endpoint_unauthenticated",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_MESSAGES_PER_SECOND is unset/0 (no per-connection message rate limiting)",
			"warning_code", "message_rate_limit_disabled",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
