package util

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GroupClaims scopes a token to one group. Tokens are issued by the account
// service; this service only verifies them.
type GroupClaims struct {
	GroupID int64  `json:"group_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateGroupJWT signs a token for groupID. Used by tests and local tooling.
func GenerateGroupJWT(groupID int64, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := GroupClaims{
		GroupID: groupID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseGroupJWT validates token and extracts its group claims.
func ParseGroupJWT(tokenStr, secret string) (*GroupClaims, error) {
	claims := &GroupClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.GroupID <= 0 {
		return nil, fmt.Errorf("%w: missing group_id", jwt.ErrTokenMalformed)
	}
	return claims, nil
}

func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
