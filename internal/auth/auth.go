package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken      = errors.New("missing token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidServiceKey = errors.New("invalid service key")
)

// Claims is the identity a validated credential carries. Every admitted
// connection belongs to exactly one tenant.
type Claims struct {
	UserID   string
	TenantID string
	Role     string
}

type jwtClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens presented on connection attempts.
type Verifier struct {
	secret         []byte
	serviceKeyHash []byte
}

func NewVerifier(secret, serviceKeyHash string) *Verifier {
	return &Verifier{secret: []byte(secret), serviceKeyHash: []byte(serviceKeyHash)}
}

// Verify parses and validates token, returning the claims embedded in
// it. Runs once per connection attempt, before the connection is
// admitted anywhere.
func (v *Verifier) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return Claims{}, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = "authenticated"
	}
	return Claims{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     role,
	}, nil
}

// Mint issues a signed token for the given identity. Used by the
// `realtimed token` command for development and by tests.
func (v *Verifier) Mint(userID, tenantID, role string, ttl time.Duration) (string, error) {
	if userID == "" || tenantID == "" {
		return "", errors.New("user id and tenant id required")
	}
	claims := jwtClaims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// VerifyServiceKey checks the key other backend services present on the
// trigger endpoint against the configured bcrypt hash. An empty
// configured hash disables the check.
func (v *Verifier) VerifyServiceKey(key string) error {
	if len(v.serviceKeyHash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(v.serviceKeyHash, []byte(key)); err != nil {
		return ErrInvalidServiceKey
	}
	return nil
}

// TokenFromRequest extracts the credential from a handshake request:
// ?token= query parameter or Authorization: Bearer header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
