// internal/app/features/authgoogle/handler.go
package authgoogle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/authutil"
	"github.com/dalemusser/ridechat/internal/app/system/ratelimit"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ProviderGoogle marks a Google sign-in in the login history.
const ProviderGoogle = "google"

const (
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	stateTTL           = 10 * time.Minute
)

// StateStore keeps one-time OAuth state tokens.
type StateStore interface {
	Save(ctx context.Context, state, returnURL string, expiresAt time.Time) error
	Consume(ctx context.Context, state string) (returnURL string, valid bool, err error)
}

// UserByEmail finds accounts by verified email.
type UserByEmail interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginRecorder keeps the login history. Optional.
type LoginRecorder interface {
	Create(ctx context.Context, rec models.LoginRecord) error
}

// Handler handles Google OAuth sign-in. Google only proves the email
// address; the account itself must already exist.
type Handler struct {
	Users      UserByEmail
	SessionMgr *auth.SessionManager
	StateStore StateStore
	Logins     LoginRecorder
	Log        *zap.Logger

	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g., "https://ridechat.example/auth/google/callback"

	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// NewHandler creates a new Google OAuth handler.
func NewHandler(
	users UserByEmail,
	sessionMgr *auth.SessionManager,
	stateStore StateStore,
	logins LoginRecorder,
	clientID, clientSecret, baseURL string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		Users:        users,
		SessionMgr:   sessionMgr,
		StateStore:   stateStore,
		Logins:       logins,
		Log:          logger,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/google/callback",
		Endpoint:     google.Endpoint,
		UserInfoURL:  defaultUserInfoURL,
	}
}

func (h *Handler) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.ClientID,
		ClientSecret: h.ClientSecret,
		RedirectURL:  h.RedirectURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: h.Endpoint,
	}
}

// IsConfigured returns true if Google OAuth is configured.
func (h *Handler) IsConfigured() bool {
	return h.ClientID != "" && h.ClientSecret != ""
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeLogin redirects to Google's consent screen.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.IsConfigured() {
		h.Log.Warn("Google OAuth not configured")
		http.Error(w, "google sign-in is not configured", http.StatusNotFound)
		return
	}

	state, err := generateState()
	if err != nil {
		h.Log.Error("failed to generate OAuth state", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	returnURL := authutil.SafeReturnURL(r.URL.Query().Get("return"))
	if err := h.StateStore.Save(ctx, state, returnURL, time.Now().Add(stateTTL)); err != nil {
		h.Log.Error("failed to save OAuth state", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.oauth2Config().AuthCodeURL(state), http.StatusTemporaryRedirect)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google/callback                                                    |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeCallback exchanges the code, matches the Google email to an account
// and starts a session.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		h.Log.Warn("Google OAuth error",
			zap.String("error", errParam),
			zap.String("description", q.Get("error_description")))
		http.Error(w, "google sign-in was cancelled", http.StatusUnauthorized)
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		http.Error(w, "invalid sign-in response", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	returnURL, valid, err := h.StateStore.Consume(ctx, state)
	if err != nil {
		h.Log.Error("failed to validate OAuth state", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !valid {
		h.Log.Warn("invalid or expired OAuth state")
		http.Error(w, "sign-in expired, please try again", http.StatusBadRequest)
		return
	}

	token, err := h.oauth2Config().Exchange(ctx, code)
	if err != nil {
		h.Log.Error("failed to exchange OAuth code", zap.Error(err))
		http.Error(w, "could not complete google sign-in", http.StatusBadGateway)
		return
	}

	info, err := h.fetchUserInfo(ctx, token)
	if err != nil {
		h.Log.Error("failed to fetch Google user info", zap.Error(err))
		http.Error(w, "could not complete google sign-in", http.StatusBadGateway)
		return
	}
	if info.Email == "" || !info.EmailVerified {
		h.Log.Info("Google OAuth: unverified email", zap.String("google_id", info.ID))
		http.Error(w, "your google email is not verified", http.StatusUnauthorized)
		return
	}

	u, err := h.Users.GetByEmail(ctx, info.Email)
	if errors.Is(err, mongo.ErrNoDocuments) {
		h.Log.Info("Google OAuth: no account", zap.String("google_id", info.ID))
		http.Error(w, "no account is linked to this google address", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.Log.Error("failed to look up user", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if u.Status == "disabled" {
		h.Log.Info("Google OAuth: user disabled", zap.String("user_id", u.ID.Hex()))
		http.Error(w, "this account is disabled", http.StatusForbidden)
		return
	}

	ip := ratelimit.ClientIP(r)
	sess, err := h.SessionMgr.StartSession(w, r, u.ID, ip)
	if err != nil {
		h.Log.Error("google login: start session failed", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		http.Error(w, "login is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if h.Logins != nil {
		rec := models.LoginRecord{
			UserID:    u.ID,
			SessionID: sess.ID,
			IP:        ip,
			UserAgent: r.UserAgent(),
			Provider:  ProviderGoogle,
		}
		if err := h.Logins.Create(ctx, rec); err != nil {
			h.Log.Warn("google login: record history failed", zap.Error(err))
		}
	}

	h.Log.Info("user logged in via google", zap.String("user_id", u.ID.Hex()))
	http.Redirect(w, r, authutil.SafeReturnURL(returnURL), http.StatusSeeOther)
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
}

func (h *Handler) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	resp, err := client.Get(h.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return &info, nil
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
