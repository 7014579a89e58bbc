// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"sync"

	messagestore "github.com/dalemusser/ridechat/internal/app/store/messages"
	ridestore "github.com/dalemusser/ridechat/internal/app/store/rides"
	"github.com/dalemusser/ridechat/internal/app/store/sessions"
	userstore "github.com/dalemusser/ridechat/internal/app/store/users"
	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/ratelimit"
	"github.com/dalemusser/ridechat/internal/app/system/realtime"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"github.com/dalemusser/ridechat/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// services are the long-lived pieces built once in Startup, mounted by
// BuildHandler and stopped by Shutdown.
type services struct {
	metrics      *prometheus.Registry
	sessionMgr   *auth.SessionManager
	hub          *realtime.Hub
	cleanup      *workers.SessionCleanup
	loginLimiter *ratelimit.Limiter
	wsLimiter    *ratelimit.Limiter
}

var (
	svcMu sync.Mutex
	svc   *services
)

func current() (*services, error) {
	svcMu.Lock()
	defer svcMu.Unlock()
	if svc == nil {
		return nil, errors.New("bootstrap: Startup has not run")
	}
	return svc, nil
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built.
//
// It applies the configured timeouts, creates the session manager, the
// metrics registry and the realtime hub, and starts the idle session sweeper.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{Handshake: appCfg.WSHandshakeTimeout})

	sessionStore := sessions.New(deps.MongoDatabase)

	// Secure cookies are enabled in production mode.
	secure := coreCfg != nil && coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain,
		appCfg.SessionMaxAge, secure, sessionStore, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return err
	}

	// Role changes and disabled accounts take effect on the next request.
	sessionMgr.SetUserFetcher(userstore.NewFetcher(deps.MongoDatabase))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := realtime.NewHub(realtime.Config{
		AllowedOrigins: appCfg.WSAllowedOrigins,
		SendQueue:      appCfg.WSSendQueue,
		HistoryLimit:   appCfg.ChatHistoryLimit,
		RateLimit:      appCfg.ChatRateLimit,
		RateWindow:     appCfg.ChatRateWindow,
	}, realtime.Deps{
		Sessions: sessionMgr,
		Rides:    ridestore.New(deps.MongoDatabase),
		Users:    userstore.New(deps.MongoDatabase),
		Messages: messagestore.New(deps.MongoDatabase),
		Activity: sessionStore,
	}, realtime.NewMetrics(reg), logger)

	s := &services{
		metrics:    reg,
		sessionMgr: sessionMgr,
		hub:        hub,
	}
	if appCfg.LoginRateLimit > 0 {
		s.loginLimiter = ratelimit.New(appCfg.LoginRateLimit, appCfg.LoginRateWindow)
	}
	if appCfg.WSHandshakeLimit > 0 {
		s.wsLimiter = ratelimit.New(appCfg.WSHandshakeLimit, appCfg.WSHandshakeWindow)
	}
	if appCfg.SessionCleanupInterval > 0 && appCfg.SessionInactiveAfter > 0 {
		s.cleanup = workers.NewSessionCleanup(sessionStore, logger,
			appCfg.SessionCleanupInterval, appCfg.SessionInactiveAfter)
		s.cleanup.Start()
	}

	svcMu.Lock()
	svc = s
	svcMu.Unlock()

	logger.Info("realtime hub ready",
		zap.Strings("allowed_origins", appCfg.WSAllowedOrigins),
		zap.Int64("history_limit", appCfg.ChatHistoryLimit),
		zap.Int("rate_limit", appCfg.ChatRateLimit))
	return nil
}
