package jwt

import (
	"fmt"
	"time"

	"auth_api/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the parsed content of an access token.
type Claims struct {
	AccountID int64
	Email     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewToken выпускает access token для аккаунта
func NewToken(account models.Account, ttl time.Duration, secret string) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub":   account.ID,
		"email": account.Email,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(secret))
}

// ParseToken validates the signature and expiry and returns the claims.
func ParseToken(tokenStr, secret string) (Claims, error) {
	const op = "jwt.ParseToken"

	claims := jwt.MapClaims{}

	parsedToken, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: unexpected signing method", op)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%s: failed to parse token: %w", op, err)
	}

	if !parsedToken.Valid {
		return Claims{}, fmt.Errorf("%s: invalid token", op)
	}

	subFloat, ok := claims["sub"].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("%s: missing sub claim", op)
	}

	email, ok := claims["email"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("%s: missing email claim", op)
	}

	tokenID, ok := claims["jti"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("%s: missing jti claim", op)
	}

	iatFloat, ok := claims["iat"].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("%s: missing iat claim", op)
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("%s: missing exp claim", op)
	}

	return Claims{
		AccountID: int64(subFloat),
		Email:     email,
		TokenID:   tokenID,
		IssuedAt:  time.Unix(int64(iatFloat), 0),
		ExpiresAt: time.Unix(int64(expFloat), 0),
	}, nil
}
