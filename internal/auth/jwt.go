// Package auth issues and validates the JWT session tokens used by the
// admin surface.
package auth

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultAlgorithm     = "HS256"
	defaultExpireMinutes = 7 * 24 * 60
)

// Config holds the JWT parameters, read from the environment.
type Config struct {
	SecretKey     string
	Algorithm     string
	ExpireMinutes int
}

// ConfigFromEnv reads JWT_SECRET_KEY, JWT_ALGORITHM and
// JWT_ACCESS_TOKEN_EXPIRE_MINUTES. A missing secret gets a random
// per-process value, which invalidates sessions on restart.
func ConfigFromEnv() Config {
	cfg := Config{
		SecretKey:     os.Getenv("JWT_SECRET_KEY"),
		Algorithm:     os.Getenv("JWT_ALGORITHM"),
		ExpireMinutes: defaultExpireMinutes,
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = uuid.NewString()
		logrus.Warn("JWT_SECRET_KEY not set, using a random per-process secret")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = defaultAlgorithm
	}
	if v := os.Getenv("JWT_ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			cfg.ExpireMinutes = minutes
		} else {
			logrus.Warnf("ignoring invalid JWT_ACCESS_TOKEN_EXPIRE_MINUTES %q", v)
		}
	}
	return cfg
}

// Claims is the session token payload.
type Claims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates session tokens.
type JWTManager struct {
	cfg    Config
	method jwt.SigningMethod
}

// NewJWTManager builds a manager for the configured HMAC algorithm.
func NewJWTManager(cfg Config) (*JWTManager, error) {
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("unsupported JWT algorithm '%s'", cfg.Algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("JWT algorithm '%s' is not an HMAC method", cfg.Algorithm)
	}
	return &JWTManager{cfg: cfg, method: method}, nil
}

// TokenLifetime is the configured session duration, used for cookie expiry.
func (j *JWTManager) TokenLifetime() time.Duration {
	return time.Duration(j.cfg.ExpireMinutes) * time.Minute
}

// GenerateToken issues a token for subject with the configured lifetime.
func (j *JWTManager) GenerateToken(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(j.cfg.ExpireMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(j.method, claims)
	signed, err := token.SignedString([]byte(j.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token.
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.cfg.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
