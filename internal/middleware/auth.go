// Package middleware provides HTTP middleware for the supply-chain API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	internalhttputil "github.com/R3E-Network/supplychain/internal/httputil"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// AccountHeader carries the caller account when header identity is enabled.
const AccountHeader = "X-Account-ID"

// Claims represents JWT claims. The subject is the caller account.
type Claims struct {
	Account string `json:"account,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the account the token speaks for.
func (c *Claims) Identity() string {
	if c.Account != "" {
		return c.Account
	}
	return c.Subject
}

type contextKey string

const accountKey contextKey = "account"

// WithAccount attaches the caller account to ctx.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// GetAccount returns the caller account carried by ctx.
func GetAccount(ctx context.Context) string {
	if v, ok := ctx.Value(accountKey).(string); ok {
		return v
	}
	return ""
}

// AuthMiddleware identifies the caller from an HS256 bearer token, or from
// AccountHeader when header identity is allowed.
type AuthMiddleware struct {
	secret      []byte
	issuer      string
	allowHeader bool
	logger      *logger.Logger
	skipPaths   map[string]bool
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(secret, issuer string, allowHeader bool, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		secret:      []byte(secret),
		issuer:      issuer,
		allowHeader: allowHeader,
		logger:      log,
		skipPaths:   skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if account := strings.TrimSpace(r.Header.Get(AccountHeader)); m.allowHeader && account != "" {
				next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
				return
			}
			m.respondError(w, r, apperrors.Unauthenticated("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.respondError(w, r, apperrors.Unauthenticated("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		m.logger.WithField("account", claims.Identity()).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), claims.Identity())))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, apperrors.Unauthenticated("token authentication is not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return nil, apperrors.Unauthenticated(reason)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Identity() == "" {
		return nil, apperrors.Unauthenticated("token carries no account")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := apperrors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = apperrors.Internal("authentication failed", err)
	}
	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("authentication failed")
}

// IssueToken signs an HS256 token for account.
func IssueToken(secret, issuer, account string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required")
	}
	now := time.Now()
	claims := &Claims{
		Account: account,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireAccount rejects requests without a caller account.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAccount(r.Context()) == "" {
			internalhttputil.Unauthorized(w, r, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
