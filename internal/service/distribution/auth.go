package distribution

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
)

var (
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const devTokenPrefix = "demo-"

var devTokens = []string{"dev-token", "trader-dev-token"}

// Claims is the payload of a downstream access token.
type Claims struct {
	UserID      string   `json:"userId,omitempty"`
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret  []byte
	devMode bool
}

func NewAuthenticator(secret string, devMode bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), devMode: devMode}
}

// Authenticate resolves token into a principal. Development tokens are only
// honored in dev mode.
func (a *Authenticator) Authenticate(token string) (entity.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return entity.Principal{}, ErrMissingToken
	}

	if a.devMode && isDevToken(token) {
		return entity.Principal{
			UserID:      constant.DevUserID,
			Username:    constant.DevUsername,
			Permissions: slices.Clone(constant.DefaultPermissions),
		}, nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return entity.Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	principal := entity.Principal{
		UserID:      claims.UserID,
		Username:    claims.Username,
		Permissions: claims.Permissions,
	}
	if principal.UserID == "" {
		principal.UserID = claims.Subject
	}
	if principal.UserID == "" {
		principal.UserID = constant.DevUsername
	}
	if len(principal.Permissions) == 0 {
		principal.Permissions = slices.Clone(constant.DefaultPermissions)
	}

	return principal, nil
}

// IssueToken signs an HS256 token for principal valid for ttl.
func (a *Authenticator) IssueToken(principal entity.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      principal.UserID,
		Username:    principal.Username,
		Permissions: principal.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  principal.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func isDevToken(token string) bool {
	return slices.Contains(devTokens, token) || strings.HasPrefix(token, devTokenPrefix)
}
