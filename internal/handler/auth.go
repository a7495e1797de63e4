package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/teamcart/internal/domain/teamcart"
)

// Claims is the bearer token payload.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns an Authenticator for tokens signed with secret.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a token for userID valid for ttl.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's user id in the context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := a.parse(raw)
		if err != nil {
			zctx.From(r.Context()).Debug("Token rejected", zap.Error(err))
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, teamcart.UserID(claims.UserID))
		ctx = zctx.With(ctx, zap.String("user_id", claims.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type userKey struct{}

// UserFromContext returns the authenticated user id.
func UserFromContext(ctx context.Context) (teamcart.UserID, bool) {
	id, ok := ctx.Value(userKey{}).(teamcart.UserID)
	return id, ok
}

// UserKey keys rate limiting by authenticated user.
func UserKey(r *http.Request) string {
	id, _ := UserFromContext(r.Context())
	return string(id)
}

var errNoUser = errors.New("no authenticated user")

func mustUser(r *http.Request) (teamcart.UserID, error) {
	id, ok := UserFromContext(r.Context())
	if !ok {
		return "", errNoUser
	}
	return id, nil
}
