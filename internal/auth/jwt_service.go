package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultUnlockTTL is the fallback validity period for unlock tokens. It
// doubles as the auto-lock timeout: when the token expires the UI drops
// back to the lock screen.
const DefaultUnlockTTL = 5 * time.Minute

// unlockSubject identifies the single vault this service guards.
const unlockSubject = "vault"

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// Claims are the custom claims embedded in unlock tokens. Epoch ties the
// token to the guard generation that issued it; locking the vault bumps the
// generation and strands every outstanding token.
type Claims struct {
	Epoch int64 `json:"epoch"`
	jwt.RegisteredClaims
}

// UnlockToken is a freshly issued token together with its expiry, which the
// UI uses to schedule the auto-lock countdown.
type UnlockToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JWTService issues and validates the short-lived tokens handed out by a
// successful unlock.
type JWTService struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
	parser *jwt.Parser
}

// NewJWTService builds a service from cfg, falling back to DefaultUnlockTTL
// and the wall clock where cfg leaves them unset.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	s := &JWTService{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		clock:  cfg.Clock,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultUnlockTTL
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
	)
	return s, nil
}

// TTL reports the configured token lifetime.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// IssueUnlockToken signs a token bound to the supplied guard epoch.
func (s *JWTService) IssueUnlockToken(epoch int64) (*UnlockToken, error) {
	now := s.clock()
	expiresAt := now.Add(s.ttl)

	claims := &Claims{
		Epoch: epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   unlockSubject,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("jwt: sign token: %w", err)
	}
	return &UnlockToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateUnlockToken parses and validates a signed token, returning its claims.
func (s *JWTService) ValidateUnlockToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	var claims Claims
	if _, err := s.parser.ParseWithClaims(tokenString, &claims, s.keyFunc); err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	switch {
	case s.issuer != "" && claims.Issuer != s.issuer:
		return nil, errors.New("jwt: invalid issuer")
	case claims.Subject != unlockSubject:
		return nil, errors.New("jwt: unexpected subject")
	}
	return &claims, nil
}

func (s *JWTService) keyFunc(*jwt.Token) (any, error) {
	return s.key, nil
}
