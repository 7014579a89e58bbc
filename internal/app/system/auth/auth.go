package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dalemusser/ridechat/internal/app/store/sessions"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"github.com/gorilla/securecookie"
	gorillasessions "github.com/gorilla/sessions"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                          |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	DefaultSessionName = "ridechat-session"

	sessionIDKey = "session_id"
	userIDKey    = "user_id"
)

// Resolution failures. Callers map these onto their transport: the HTTP
// middleware treats every failure as "not signed in", the realtime
// handshake closes the socket with a category-specific code.
var (
	// ErrNoSession means the request carried no session cookie at all.
	ErrNoSession = errors.New("no session")
	// ErrInvalidSession means a cookie was present but could not be
	// verified, or the session it names is unknown, closed or incomplete.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionStore means the session store could not be consulted.
	ErrSessionStore = errors.New("session store unavailable")
)

// SessionStore is the server-side session record store shared with the
// login flow.
type SessionStore interface {
	GetByID(ctx context.Context, sessionID primitive.ObjectID) (sessions.Session, error)
	Create(ctx context.Context, userID primitive.ObjectID, ip, userAgent, createdBy string) (sessions.Session, error)
	Close(ctx context.Context, sessionID primitive.ObjectID, reason string) error
}

// UserFetcher loads fresh user data for an authenticated session.
// It returns nil when the user no longer exists or is disabled.
type UserFetcher interface {
	FetchUser(ctx context.Context, userID primitive.ObjectID) *SessionUser
}

// Identity is the result of resolving a session.
type Identity struct {
	UserID    primitive.ObjectID
	SessionID primitive.ObjectID
}

// SessionUser is what we inject into r.Context() for signed-in requests.
type SessionUser struct {
	ID       string
	Username string
	Name     string
	Email    string
}

// ObjectID returns the user's ID as an ObjectID.
func (u *SessionUser) ObjectID() (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(u.ID)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Session manager                                                            |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionManager owns the signed cookie store and the single code path that
// turns a request into an authenticated identity. Both the HTTP middleware
// and the WebSocket handshake go through Resolve.
type SessionManager struct {
	cookies     *gorillasessions.CookieStore
	name        string
	store       SessionStore
	userFetcher UserFetcher
	log         *zap.Logger
}

// NewSessionManager builds a SessionManager.
//
// In production (secure=true), cookies are Secure + SameSite=None.
// In local dev over http://localhost, use secure=false so cookies are accepted.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, store SessionStore, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("session key is empty; provide ≥32 random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if name == "" {
		name = DefaultSessionName
	}

	cookies := gorillasessions.NewCookieStore([]byte(sessionKey))
	opts := &gorillasessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
	}
	if secure {
		opts.SameSite = http.SameSiteNoneMode
	} else {
		opts.SameSite = http.SameSiteLaxMode
	}
	cookies.Options = opts
	cookies.MaxAge(opts.MaxAge)

	logger.Info("session manager initialized",
		zap.String("name", name),
		zap.Bool("secure", secure),
		zap.String("domain", domain))

	return &SessionManager{
		cookies: cookies,
		name:    name,
		store:   store,
		log:     logger,
	}, nil
}

// SetUserFetcher enables loading fresh user data in LoadSessionUser.
func (m *SessionManager) SetUserFetcher(f UserFetcher) {
	m.userFetcher = f
}

// Name returns the session cookie name.
func (m *SessionManager) Name() string {
	return m.name
}

// Resolve authenticates a request from its session cookie. It is read-only.
//
// Errors wrap ErrNoSession, ErrInvalidSession or ErrSessionStore.
func (m *SessionManager) Resolve(r *http.Request) (Identity, error) {
	if _, err := r.Cookie(m.name); err != nil {
		return Identity{}, ErrNoSession
	}

	// The cookie store verifies the HMAC and decodes the payload.
	sess, err := m.cookies.Get(r, m.name)
	if err != nil {
		var cerr securecookie.Error
		if errors.As(err, &cerr) && !cerr.IsDecode() {
			return Identity{}, fmt.Errorf("%w: %v", ErrSessionStore, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if sess.IsNew {
		return Identity{}, ErrInvalidSession
	}

	rawID, _ := sess.Values[sessionIDKey].(string)
	sessionID, err := primitive.ObjectIDFromHex(rawID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed session id", ErrInvalidSession)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	rec, err := m.store.GetByID(ctx, sessionID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Identity{}, fmt.Errorf("%w: unknown session", ErrInvalidSession)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	if !rec.Active() {
		return Identity{}, fmt.Errorf("%w: session ended", ErrInvalidSession)
	}
	if rec.UserID.IsZero() {
		return Identity{}, fmt.Errorf("%w: session has no user", ErrInvalidSession)
	}

	return Identity{UserID: rec.UserID, SessionID: sessionID}, nil
}

// StartSession records a new server-side session for userID and writes the
// signed cookie. It is called by the login flow once credentials are verified.
func (m *SessionManager) StartSession(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID, ip string) (sessions.Session, error) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	rec, err := m.store.Create(ctx, userID, ip, r.UserAgent(), sessions.CreatedByLogin)
	if err != nil {
		return sessions.Session{}, err
	}

	sess, _ := m.cookies.New(r, m.name)
	sess.Values[sessionIDKey] = rec.ID.Hex()
	sess.Values[userIDKey] = userID.Hex()
	if err := sess.Save(r, w); err != nil {
		return sessions.Session{}, err
	}
	return rec, nil
}

// EndSession closes the server-side session (if any) and expires the cookie.
// Open realtime connections keep running; new handshakes are rejected.
func (m *SessionManager) EndSession(w http.ResponseWriter, r *http.Request) error {
	id, err := m.Resolve(r)
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
		defer cancel()
		if cerr := m.store.Close(ctx, id.SessionID, sessions.EndLogout); cerr != nil {
			return cerr
		}
	} else if errors.Is(err, ErrSessionStore) {
		return err
	}

	sess, _ := m.cookies.New(r, m.name)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Current-User helper                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the user & “found?” flag.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	u, ok := r.Context().Value(currentUserKey).(*SessionUser)
	return u, ok
}

// LoadSessionUser injects the user into context if they are signed in.
// Session store outages are logged and the request continues anonymously.
func (m *SessionManager) LoadSessionUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.Resolve(r)
		if err != nil {
			if errors.Is(err, ErrSessionStore) {
				m.log.Warn("session resolution failed", zap.Error(err))
			}
			next.ServeHTTP(w, r)
			return
		}

		var u *SessionUser
		if m.userFetcher != nil {
			u = m.userFetcher.FetchUser(r.Context(), id.UserID)
			if u == nil {
				// deleted or disabled account
				next.ServeHTTP(w, r)
				return
			}
		} else {
			u = &SessionUser{ID: id.UserID.Hex()}
		}
		next.ServeHTTP(w, withUser(r, u))
	})
}

// RequireSignedIn ensures there is a user in context (set by LoadSessionUser).
// Callers without one get a plain 401.
func (m *SessionManager) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// WithTestUser injects a user into the request context. Tests use it to
// bypass the cookie round trip.
func WithTestUser(r *http.Request, u *SessionUser) *http.Request {
	return withUser(r, u)
}

// helpers

func withUser(r *http.Request, u *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), currentUserKey, u))
}
