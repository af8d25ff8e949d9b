package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sehha.app/diagnosis-assistant/internal/config"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 24 * time.Hour

// ErrNoSecret means JWT_SECRET is not configured, so tokens are disabled.
var ErrNoSecret = errors.New("JWT secret not configured")

// Enabled reports whether bearer tokens are issued and checked.
func Enabled() bool { return config.AppConfig.JWTSecret != "" }

// GenerateJWT issues a token whose subject is the interview user id.
func GenerateJWT(userID string) (string, error) {
	if !Enabled() {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ValidateJWT checks the signature and expiry and returns the subject.
func ValidateJWT(tokenString string) (string, error) {
	if !Enabled() {
		return "", ErrNoSecret
	}
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}

	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}
