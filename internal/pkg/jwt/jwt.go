// Package jwt issues and checks the staff tokens accepted by the admin
// endpoints.
package jwt

import (
	"errors"
	"time"

	"courtbook/internal/pkg/clock"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin = "admin"
	Issuer    = "courtbook"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwtlib.RegisteredClaims
}

func New(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock.System{},
	}
}

// WithClock replaces the clock used for issuing and expiry checks.
func (s *Service) WithClock(clk clock.Clock) *Service {
	s.clock = clk
	return s
}

func (s *Service) GenerateToken(userID string, role string) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(Issuer),
		jwtlib.WithTimeFunc(s.clock.Now),
	)
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil || !token.Valid:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
