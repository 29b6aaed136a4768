package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocalAccount is the account used when no signing secret is configured
const LocalAccount = "local"

type accountKey struct{}

// AccountFromContext returns the account id set by Authenticate
func AccountFromContext(ctx context.Context) string {
	account, _ := ctx.Value(accountKey{}).(string)
	return account
}

// WithAccount returns a context carrying an account id
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// Auth verifies HS256 bearer tokens. The token subject is the account.
type Auth struct {
	secret []byte
}

// NewAuth creates a verifier. An empty secret disables verification and
// every request runs as LocalAccount.
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Enabled reports whether tokens are verified
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

// Sign issues a token for account valid for ttl
func (a *Auth) Sign(account string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("auth is disabled")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   account,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns its subject
func (a *Auth) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Authenticate attaches the account of a valid bearer token to the
// request context. Requests without a token pass through anonymously;
// invalid tokens are rejected.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), LocalAccount)))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeAuthError(w, "Malformed authorization header")
			return
		}
		account, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			writeAuthError(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// RequireAccount rejects requests without an authenticated account
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AccountFromContext(r.Context()) == "" {
			writeAuthError(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
