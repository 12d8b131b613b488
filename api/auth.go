package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"tasks-api/domain"
)

const (
	DefaultTokenTTL = 2 * time.Hour
	DefaultKeyID    = "primary"

	issuedAtLeeway = time.Minute
)

type tokenClaims struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 bearer tokens. Tokens carry a kid header so
// secrets can be rotated: retired secrets stay valid for verification only.
type TokenService struct {
	keyID  string
	secret []byte
	ttl    time.Duration
	keys   *keyfunc.JWKS
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenService creates a token service signing with secret under keyID. previous maps
// retired key ids to their secrets.
func NewTokenService(keyID string, secret []byte, previous map[string][]byte, ttl time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	if keyID == "" {
		keyID = DefaultKeyID
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	alg := jwt.SigningMethodHS256.Alg()
	given := make(map[string]keyfunc.GivenKey, len(previous)+1)
	for kid, s := range previous {
		if kid == keyID {
			return nil, fmt.Errorf("key id %q is already used by the signing key", kid)
		}
		if len(s) == 0 {
			return nil, fmt.Errorf("key id %q has an empty secret", kid)
		}
		given[kid] = keyfunc.NewGivenHMACCustomWithOptions(s, keyfunc.GivenKeyOptions{Algorithm: alg})
	}
	given[keyID] = keyfunc.NewGivenHMACCustomWithOptions(secret, keyfunc.GivenKeyOptions{Algorithm: alg})

	return &TokenService{
		keyID:  keyID,
		secret: secret,
		ttl:    ttl,
		keys:   keyfunc.NewGiven(given),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{alg}), jwt.WithoutClaimsValidation()),
		now:    time.Now,
	}, nil
}

// Issue signs a token for id that expires after the configured TTL.
func (s *TokenService) Issue(id domain.Identity) (string, time.Time, error) {
	now := s.now()
	claims := tokenClaims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(id.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature and expiry of token. Every failure is reported as
// domain.ErrInvalidToken.
func (s *TokenService) Verify(token string) (domain.Identity, error) {
	var claims tokenClaims
	parsed, err := s.parser.ParseWithClaims(token, &claims, s.keys.Keyfunc)
	if err != nil || !parsed.Valid {
		return domain.Identity{}, domain.ErrInvalidToken
	}

	now := s.now()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if !claims.VerifyIssuedAt(now.Add(issuedAtLeeway), false) {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if claims.UserID <= 0 || claims.Username == "" || claims.Subject != strconv.Itoa(claims.UserID) {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
