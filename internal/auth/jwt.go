package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token roles.
const (
	RoleMerchant = "merchant"
	RoleChat     = "chat"
)

// Token lifetimes.
const (
	MerchantTokenExpiry = 12 * time.Hour
	ChatTokenExpiry     = 24 * time.Hour
)

var ErrWrongRole = errors.New("token role not accepted here")

// Claims represents the JWT claims. For chat tokens the subject is the
// anonymous customer identity.
type Claims struct {
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateMerchantToken creates a token scoped to one business.
func GenerateMerchantToken(secret, businessID string) (string, error) {
	return generate(secret, businessID, RoleMerchant, businessID, MerchantTokenExpiry)
}

// GenerateChatToken creates a web-chat token with a fresh customer identity.
// It returns the token and the identity.
func GenerateChatToken(secret, businessID string) (string, string, error) {
	identity := "web:" + uuid.NewString()
	token, err := generate(secret, businessID, RoleChat, identity, ChatTokenExpiry)
	if err != nil {
		return "", "", err
	}
	return token, identity, nil
}

func generate(secret, businessID, role, subject string, expiry time.Duration) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", fmt.Errorf("generating JTI: %w", err)
	}

	now := time.Now()
	claims := Claims{
		BusinessID: businessID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.BusinessID == "" {
		return nil, fmt.Errorf("token has no business")
	}

	return claims, nil
}

// ValidateRole validates the token and checks that it carries role.
func ValidateRole(secret, tokenStr, role string) (*Claims, error) {
	claims, err := ValidateToken(secret, tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Role != role {
		return nil, ErrWrongRole
	}
	return claims, nil
}

// generateJTI creates a random token ID.
func generateJTI() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
