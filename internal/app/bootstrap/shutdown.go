// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown closes realtime connections, stops background workers and
// disconnects MongoDB.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	svcMu.Lock()
	s := svc
	svc = nil
	svcMu.Unlock()

	if s != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			logger.Warn("realtime hub did not drain before deadline", zap.Error(err))
		}
		if s.cleanup != nil {
			s.cleanup.Stop()
		}
		if s.loginLimiter != nil {
			s.loginLimiter.Stop()
		}
		if s.wsLimiter != nil {
			s.wsLimiter.Stop()
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
