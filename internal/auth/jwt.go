package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSubject is returned when a token carries no usable sub claim.
	ErrNoSubject = errors.New("token has no subject")
	// ErrEmptyToken is returned for an empty credential.
	ErrEmptyToken = errors.New("empty token")
)

// TokenInfo is what the client can learn from its own token without the
// signing key.
type TokenInfo struct {
	UserID    int64
	Name      string
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token expired before now.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// JWTConfig holds the signing settings used by the stub backend.
type JWTConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// GenerateToken signs an HS256 token with a numeric sub, the shape the
// chat backend issues.
func GenerateToken(cfg *JWTConfig, userID int64, name string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"iat":  now.Unix(),
		"type": "access",
	}
	if cfg.TTL > 0 {
		claims["exp"] = now.Add(cfg.TTL).Unix()
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if name != "" {
		claims["name"] = name
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateToken parses and verifies a token signed with cfg.Secret.
func ValidateToken(cfg *JWTConfig, tokenString string) (*TokenInfo, error) {
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return infoFromClaims(claims)
}

// Inspect decodes a token without verifying its signature.
func Inspect(tokenString string) (*TokenInfo, error) {
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return infoFromClaims(claims)
}

func infoFromClaims(claims jwt.MapClaims) (*TokenInfo, error) {
	info := &TokenInfo{}

	switch sub := claims["sub"].(type) {
	case float64:
		info.UserID = int64(sub)
	case string:
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrNoSubject, sub)
		}
		info.UserID = id
	default:
		return nil, ErrNoSubject
	}

	if name, ok := claims["name"].(string); ok {
		info.Name = name
	}
	if typ, ok := claims["type"].(string); ok {
		info.Type = typ
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}
