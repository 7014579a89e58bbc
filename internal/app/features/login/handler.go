// internal/app/features/login/handler.go
package login

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	loginstore "github.com/dalemusser/ridechat/internal/app/store/logins"
	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/authutil"
	"github.com/dalemusser/ridechat/internal/app/system/limits"
	"github.com/dalemusser/ridechat/internal/app/system/ratelimit"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const msgBadCredentials = "invalid username or password"

// UserByName finds accounts by username.
type UserByName interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// LoginRecorder keeps the login history. Optional.
type LoginRecorder interface {
	Create(ctx context.Context, rec models.LoginRecord) error
}

type Handler struct {
	Users      UserByName
	SessionMgr *auth.SessionManager
	Logins     LoginRecorder
	Limiter    *ratelimit.Limiter // per client IP, optional
	Log        *zap.Logger
}

func NewHandler(users UserByName, sessionMgr *auth.SessionManager, logins LoginRecorder, limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		Users:      users,
		SessionMgr: sessionMgr,
		Logins:     logins,
		Limiter:    limiter,
		Log:        logger,
	}
}

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt comparison.
var (
	dummyOnce sync.Once
	dummyHash string
)

func unknownUserHash() string {
	dummyOnce.Do(func() {
		dummyHash, _ = authutil.HashPassword("ridechat-unknown-user")
	})
	return dummyHash
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /login                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// HandleLoginPost verifies username and password, starts a session and
// redirects to the return URL.
func (h *Handler) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r)
	if h.Limiter != nil && !h.Limiter.Allow(ip) {
		h.Log.Warn("login rate limited", zap.String("ip", ip))
		http.Error(w, "too many login attempts, try again later", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxFormSize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		h.Log.Error("login: user lookup failed", zap.Error(err))
		http.Error(w, "login is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if u == nil {
		authutil.CheckPassword(password, unknownUserHash())
		h.Log.Info("login failed: unknown user", zap.String("username", username))
		http.Error(w, msgBadCredentials, http.StatusUnauthorized)
		return
	}
	if !authutil.CheckPassword(password, u.PasswordHash) {
		h.Log.Info("login failed: wrong password", zap.String("user_id", u.ID.Hex()))
		http.Error(w, msgBadCredentials, http.StatusUnauthorized)
		return
	}
	if u.Status == "disabled" {
		h.Log.Info("login failed: account disabled", zap.String("user_id", u.ID.Hex()))
		http.Error(w, msgBadCredentials, http.StatusUnauthorized)
		return
	}

	rec, err := h.SessionMgr.StartSession(w, r, u.ID, ip)
	if err != nil {
		h.Log.Error("login: start session failed", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		http.Error(w, "login is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if h.Limiter != nil {
		h.Limiter.Reset(ip)
	}

	if h.Logins != nil {
		lr := models.LoginRecord{
			UserID:    u.ID,
			SessionID: rec.ID,
			IP:        ip,
			UserAgent: r.UserAgent(),
			Provider:  loginstore.ProviderPassword,
		}
		if err := h.Logins.Create(ctx, lr); err != nil {
			h.Log.Warn("login: record history failed", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		}
	}

	h.Log.Info("user logged in", zap.String("user_id", u.ID.Hex()), zap.String("session_id", rec.ID.Hex()))

	dest := authutil.SafeReturnURL(r.FormValue("return"))
	if r.Header.Get("HX-Request") != "" {
		w.Header().Set("HX-Redirect", dest)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}
