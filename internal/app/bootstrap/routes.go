// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	authgooglefeature "github.com/dalemusser/ridechat/internal/app/features/authgoogle"
	chatfeature "github.com/dalemusser/ridechat/internal/app/features/chat"
	healthfeature "github.com/dalemusser/ridechat/internal/app/features/health"
	heartbeatfeature "github.com/dalemusser/ridechat/internal/app/features/heartbeat"
	loginfeature "github.com/dalemusser/ridechat/internal/app/features/login"
	logoutfeature "github.com/dalemusser/ridechat/internal/app/features/logout"
	ridesfeature "github.com/dalemusser/ridechat/internal/app/features/rides"
	userinfofeature "github.com/dalemusser/ridechat/internal/app/features/userinfo"
	loginstore "github.com/dalemusser/ridechat/internal/app/store/logins"
	"github.com/dalemusser/ridechat/internal/app/store/oauthstate"
	ridestore "github.com/dalemusser/ridechat/internal/app/store/rides"
	"github.com/dalemusser/ridechat/internal/app/store/sessions"
	userstore "github.com/dalemusser/ridechat/internal/app/store/users"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed. The session manager and realtime hub come from
// Startup; stores are built here over deps.MongoDatabase.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	s, err := current()
	if err != nil {
		return nil, err
	}
	sessionMgr := s.sessionMgr

	users := userstore.New(deps.MongoDatabase)
	logins := loginstore.New(deps.MongoDatabase)

	r := chi.NewRouter()

	// Global auth middleware: loads SessionUser into context if logged in.
	r.Use(sessionMgr.LoadSessionUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, s.hub, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	// Realtime chat socket
	chatHandler := chatfeature.NewHandler(s.hub, logger)
	r.Mount("/ws/chat", chatfeature.Routes(chatHandler, s.wsLimiter))

	// Ride membership and message history
	ridesHandler := ridesfeature.NewHandler(ridestore.New(deps.MongoDatabase), s.hub, logger)
	r.Mount("/rides", ridesfeature.Routes(ridesHandler, sessionMgr))

	// Sign in / sign out
	loginHandler := loginfeature.NewHandler(users, sessionMgr, logins, s.loginLimiter, logger)
	r.Mount("/login", loginfeature.Routes(loginHandler))

	logoutHandler := logoutfeature.NewHandler(sessionMgr, logger)
	r.Mount("/logout", logoutfeature.Routes(logoutHandler, sessionMgr))

	googleHandler := authgooglefeature.NewHandler(users, sessionMgr, oauthstate.New(deps.MongoDatabase), logins,
		appCfg.GoogleClientID, appCfg.GoogleClientSecret, appCfg.BaseURL, logger)
	r.Mount("/auth/google", authgooglefeature.Routes(googleHandler))

	// Client helpers: who am I, and keep my session alive while idle
	userinfofeature.MountRoutes(r, userinfofeature.NewHandler())

	heartbeatHandler := heartbeatfeature.NewHandler(sessions.New(deps.MongoDatabase), sessionMgr, logger)
	r.Mount("/api/heartbeat", heartbeatfeature.Routes(heartbeatHandler, sessionMgr))

	return r, nil
}
