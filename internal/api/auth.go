package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/validation"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	identityKey = "identity"
)

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID   uuid.UUID
	Username string
	IsAdmin  bool
}

// TokenIssuer signs and verifies the access/refresh token pair.
type TokenIssuer struct {
	secret       []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	cookieDomain string
	secure       bool
}

// NewTokenIssuer creates a token issuer. TTLs fall back to 30m/7d when unset.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration, cookieDomain string, secure bool) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenIssuer{
		secret:       []byte(secret),
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		cookieDomain: cookieDomain,
		secure:       secure,
	}
}

type tokenClaims struct {
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// tokenPair is the login/refresh response payload.
type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Issue signs a fresh access/refresh token pair for the user.
func (t *TokenIssuer) Issue(id Identity) (*tokenPair, error) {
	access, err := t.sign(id, tokenTypeAccess, t.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := t.sign(id, tokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &tokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(t.accessTTL.Seconds()),
	}, nil
}

func (t *TokenIssuer) sign(id Identity, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Username:  id.Username,
		IsAdmin:   id.IsAdmin,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "failed to sign token", err)
	}
	return signed, nil
}

// Verify parses a token and checks it carries the expected type.
func (t *TokenIssuer) Verify(raw, wantType string) (*Identity, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Newf(errs.KindUnauthenticated, "unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errs.Wrap(errs.KindUnauthenticated, "invalid token", err)
	}
	if claims.TokenType != wantType {
		return nil, errs.Newf(errs.KindUnauthenticated, "expected %s token", wantType)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnauthenticated, "invalid token subject", err)
	}
	return &Identity{UserID: userID, Username: claims.Username, IsAdmin: claims.IsAdmin}, nil
}

// setCookies writes both tokens as HTTP-only cookies.
func (s *Server) setCookies(c *gin.Context, pair *tokenPair) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessCookie, pair.AccessToken, int(s.auth.accessTTL.Seconds()), "/", s.auth.cookieDomain, s.auth.secure, true)
	c.SetCookie(refreshCookie, pair.RefreshToken, int(s.auth.refreshTTL.Seconds()), "/", s.auth.cookieDomain, s.auth.secure, true)
}

func (s *Server) clearCookies(c *gin.Context) {
	c.SetCookie(accessCookie, "", -1, "/", s.auth.cookieDomain, s.auth.secure, true)
	c.SetCookie(refreshCookie, "", -1, "/", s.auth.cookieDomain, s.auth.secure, true)
}

// handleLogin verifies credentials and issues the token pair. Both the JSON
// body and the response intentionally avoid distinguishing unknown users
// from wrong passwords.
func (s *Server) handleLogin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		s.respondError(c, errs.New(errs.KindInvalidArgument, "username and password are required"))
		return
	}

	normalized, err := validation.ValidateUsername(username)
	if err != nil {
		s.respondError(c, errs.New(errs.KindUnauthenticated, "invalid credentials"))
		return
	}

	user, err := s.store.GetUserByUsername(c.Request.Context(), normalized)
	if err != nil || !user.IsActive {
		s.respondError(c, errs.New(errs.KindUnauthenticated, "invalid credentials"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		log.Warn().Str("username", normalized).Str("client_ip", c.ClientIP()).Msg("Login failed")
		s.respondError(c, errs.New(errs.KindUnauthenticated, "invalid credentials"))
		return
	}

	id := Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin}
	pair, err := s.auth.Issue(id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.setCookies(c, pair)
	log.Info().Str("username", user.Username).Msg("User logged in")
	respondData(c, http.StatusOK, pair)
}

// handleLogout clears the auth cookies. There is no server-side session to
// tear down; tokens simply age out.
func (s *Server) handleLogout(c *gin.Context) {
	s.clearCookies(c)
	respondMessage(c, "logged out")
}

// handleRefresh exchanges a valid refresh token for a new token pair.
func (s *Server) handleRefresh(c *gin.Context) {
	raw, err := c.Cookie(refreshCookie)
	if err != nil || raw == "" {
		raw = bearerToken(c)
	}
	if raw == "" {
		s.respondError(c, errs.New(errs.KindUnauthenticated, "refresh token required"))
		return
	}

	id, err := s.auth.Verify(raw, tokenTypeRefresh)
	if err != nil {
		s.respondError(c, err)
		return
	}

	// Re-read the user so a deactivated account cannot refresh forever.
	user, err := s.store.GetUserByUsername(c.Request.Context(), id.Username)
	if err != nil || !user.IsActive {
		s.respondError(c, errs.New(errs.KindUnauthenticated, "account unavailable"))
		return
	}

	pair, err := s.auth.Issue(Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin})
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.setCookies(c, pair)
	respondData(c, http.StatusOK, pair)
}

// handleMe returns the authenticated user's profile.
func (s *Server) handleMe(c *gin.Context) {
	id := s.identity(c)
	user, err := s.store.GetUserByUsername(c.Request.Context(), id.Username)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, user)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// requireAuth authenticates the request from the Authorization header or
// the access cookie and attaches the Identity to the context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			raw, _ = c.Cookie(accessCookie)
		}
		if raw == "" {
			s.respondError(c, errs.New(errs.KindUnauthenticated, "authentication required"))
			c.Abort()
			return
		}

		id, err := s.auth.Verify(raw, tokenTypeAccess)
		if err != nil {
			s.respondError(c, err)
			c.Abort()
			return
		}

		c.Set(identityKey, *id)
		c.Next()
	}
}

// identity returns the authenticated caller; only valid behind requireAuth.
func (s *Server) identity(c *gin.Context) Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(Identity)
	return id
}
