// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration. Ports, TLS, logging and
// CORS live in WAFFLE's CoreConfig.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session management configuration
	SessionKey    string        // Secret key for signing session cookies (must be strong in production)
	SessionName   string        // Cookie name for sessions (default: ridechat-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Cookie lifetime

	// Background session cleanup
	SessionCleanupInterval time.Duration
	SessionInactiveAfter   time.Duration

	// Realtime transport
	WSAllowedOrigins   []string      // Accepted Origin headers; empty means same-origin only
	WSHandshakeTimeout time.Duration // Deadline for resolving a handshake
	WSSendQueue        int           // Per-connection outbound buffer
	WSHandshakeLimit   int           // Handshakes per client IP per WSHandshakeWindow (0 disables)
	WSHandshakeWindow  time.Duration

	// Chat behavior
	ChatHistoryLimit int64 // Messages replayed after join (negative disables)
	ChatRateLimit    int   // Messages per user per ChatRateWindow (0 disables)
	ChatRateWindow   time.Duration

	// Password login throttling per client IP
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// Google OAuth (sign-in is disabled when the client ID is blank)
	GoogleClientID     string
	GoogleClientSecret string

	// Base URL used to build OAuth callback URLs
	BaseURL string // e.g., "https://ridechat.example" or "http://localhost:8080"
}
