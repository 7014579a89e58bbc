// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// minSessionKeyLength is the shortest signing key accepted in production.
const minSessionKeyLength = 32

// appConfigKeys defines the configuration keys for ridechat.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: RIDECHAT_MONGO_URI, RIDECHAT_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "ridechat", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "ridechat-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime (e.g., 24h, 720h)"},

	// Session cleanup worker
	{Name: "session_cleanup_interval", Default: "5m", Desc: "How often idle sessions are swept"},
	{Name: "session_inactive_after", Default: "168h", Desc: "Idle time before a session is closed"},

	// Realtime transport
	{Name: "ws_allowed_origins", Default: "", Desc: "Comma-separated Origin allow list for /ws/chat ('*' accepts any, blank means same-origin)"},
	{Name: "ws_handshake_timeout", Default: "5s", Desc: "Deadline for resolving a realtime handshake"},
	{Name: "ws_send_queue", Default: 64, Desc: "Per-connection outbound event buffer"},
	{Name: "ws_handshake_limit", Default: 30, Desc: "Realtime handshakes per client IP per window (0 disables)"},
	{Name: "ws_handshake_window", Default: "1m", Desc: "Window for ws_handshake_limit"},

	// Chat
	{Name: "chat_history_limit", Default: 50, Desc: "Messages replayed after joining a ride (negative disables)"},
	{Name: "chat_rate_limit", Default: 20, Desc: "Chat messages per user per window (0 disables)"},
	{Name: "chat_rate_window", Default: "10s", Desc: "Window for chat_rate_limit"},

	// Password login throttling
	{Name: "login_rate_limit", Default: 10, Desc: "Failed-login budget per client IP per window"},
	{Name: "login_rate_window", Default: "15m", Desc: "Window for login_rate_limit"},

	// Google OAuth configuration
	{Name: "google_client_id", Default: "", Desc: "Google OAuth2 client ID (blank disables Google sign-in)"},
	{Name: "google_client_secret", Default: "", Desc: "Google OAuth2 client secret"},

	// Base URL for OAuth callbacks
	{Name: "base_url", Default: "http://localhost:8080", Desc: "Public base URL used for OAuth callbacks"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, RIDECHAT_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "RIDECHAT", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 30*24*time.Hour),

		SessionCleanupInterval: appValues.Duration("session_cleanup_interval", 5*time.Minute),
		SessionInactiveAfter:   appValues.Duration("session_inactive_after", 7*24*time.Hour),

		WSAllowedOrigins:   splitList(appValues.String("ws_allowed_origins")),
		WSHandshakeTimeout: appValues.Duration("ws_handshake_timeout", 5*time.Second),
		WSSendQueue:        appValues.Int("ws_send_queue"),
		WSHandshakeLimit:   appValues.Int("ws_handshake_limit"),
		WSHandshakeWindow:  appValues.Duration("ws_handshake_window", time.Minute),

		ChatHistoryLimit: int64(appValues.Int("chat_history_limit")),
		ChatRateLimit:    appValues.Int("chat_rate_limit"),
		ChatRateWindow:   appValues.Duration("chat_rate_window", 10*time.Second),

		LoginRateLimit:  appValues.Int("login_rate_limit"),
		LoginRateWindow: appValues.Duration("login_rate_window", 15*time.Minute),

		GoogleClientID:     appValues.String("google_client_id"),
		GoogleClientSecret: appValues.String("google_client_secret"),

		BaseURL: appValues.String("base_url"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// The MongoDB URI is checked before attempting to connect. A short session
// key is fatal in production and only logged elsewhere.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.SessionKey == "" {
		return errors.New("session_key is required")
	}
	if len(appCfg.SessionKey) < minSessionKeyLength {
		if coreCfg != nil && coreCfg.Env == "prod" {
			return fmt.Errorf("session_key must be at least %d characters in production", minSessionKeyLength)
		}
		logger.Warn("session_key is short; use 32+ random characters",
			zap.Int("length", len(appCfg.SessionKey)))
	}

	if appCfg.WSSendQueue < 0 {
		return errors.New("ws_send_queue must not be negative")
	}
	if appCfg.ChatRateLimit < 0 || appCfg.LoginRateLimit < 0 || appCfg.WSHandshakeLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if appCfg.GoogleClientID != "" && appCfg.GoogleClientSecret == "" {
		return errors.New("google_client_secret is required when google_client_id is set")
	}

	return nil
}

// splitList turns a comma-separated value into trimmed, non-empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
