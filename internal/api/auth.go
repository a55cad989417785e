package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmirror/pkg/types"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for tokens past their expiry
	ErrExpiredToken = errors.New("token expired")
)

// RoleAdmin may run forced resyncs for any account
const RoleAdmin = types.RoleAdmin

const claimsKey = "claims"

// Claims carries the caller identity. Tokens are issued by the identity
// layer in front of this service; IssueToken exists for local use.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a token manager
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// IssueToken signs a token for email valid for ttl
func (m *TokenManager) IssueToken(email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: strings.ToLower(email),
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strings.ToLower(email),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies a token and returns its claims
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(tokens *TokenManager, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			logger.WithError(err).WithField("ip", c.ClientIP()).Warn("Rejected token")
			abortWithError(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. It must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentClaims(c)
		if claims == nil {
			abortWithError(c, http.StatusUnauthorized, "authentication required")
			return
		}
		if claims.Role != RoleAdmin {
			abortWithError(c, http.StatusForbidden, "admin access required")
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func currentClaims(c *gin.Context) *Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
