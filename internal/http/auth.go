package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/userstore"
)

// sessionCookie names the cookie that carries the session token.
const sessionCookie = "tierkb_session"

// sessionTTL bounds how long a login stays valid.
const sessionTTL = 24 * time.Hour

// userContextKey is the echo context key the auth middleware stores
// the resolved user under.
const userContextKey = "tierkb.user"

// sessionClaims is the JWT payload for a logged-in session. The
// subject is the username; the tier is informational, access checks
// always re-read the user from the store.
type sessionClaims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

// issueSession signs a session token for the user and sets it as a
// cookie on the response.
func (s *Server) issueSession(c echo.Context, user *userstore.User) error {
	claims := sessionClaims{
		Tier: user.AccessLevel,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.SecretKey))
	if err != nil {
		return fmt.Errorf("signing session token: %w", err)
	}

	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(sessionTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// clearSession expires the session cookie.
func (s *Server) clearSession(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// requireSession authenticates the request from the session cookie.
//
// The user is re-loaded from the store on every request, so a deleted
// account stops authenticating immediately even with a live token.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}

		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.config.SecretKey), nil
		})
		if err != nil || !token.Valid {
			s.logger.Debug("rejected session token", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
		}

		user := s.users.Get(claims.Subject)
		if user == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
		}

		c.Set(userContextKey, user)
		return next(c)
	}
}

// sessionUser returns the user the auth middleware resolved.
func sessionUser(c echo.Context) *userstore.User {
	user, _ := c.Get(userContextKey).(*userstore.User)
	return user
}
