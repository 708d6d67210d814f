package handler

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/bazaar/internal/domain/auth"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errInvalidToken    = errors.New("invalid or expired token")
)

// Claims is the JWT payload issued by the identity service.
type Claims struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens verifies and issues HS256 bearer tokens.
type Tokens struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokens returns Tokens signing with secret.
func NewTokens(secret string) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Issue mints a token for p valid for ttl.
func (t *Tokens) Issue(p auth.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:    p.UserID,
		Email: p.Email,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify parses a token and returns its principal.
func (t *Tokens) Verify(token string) (auth.Principal, error) {
	var claims Claims
	if _, err := t.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return auth.Principal{}, errInvalidToken
	}

	id := claims.ID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return auth.Principal{}, errInvalidToken
	}
	role := claims.Role
	if role == "" {
		role = auth.RoleCustomer
	}
	return auth.Principal{UserID: id, Email: claims.Email, Role: role}, nil
}

// Authenticate requires a valid bearer token and stores the principal in
// the request context.
func (t *Tokens) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			writeError(w, r, errUnauthenticated)
			return
		}
		p, err := t.Verify(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// RequireRole rejects principals without one of roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(w, r, errUnauthenticated)
				return
			}
			if !slices.Contains(roles, p.Role) {
				writeError(w, r, errRoleDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var errRoleDenied = errors.New("not authorized for this action")

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
