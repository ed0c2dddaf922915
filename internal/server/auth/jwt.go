// Package auth mints and verifies the signed access tokens handed to clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. A token minted for one purpose never verifies as another.
const (
	PurposeAccess = "access"
	PurposeReset  = "reset"
)

// Claims carries the registered JWT claims plus the token purpose.
type Claims struct {
	jwt.RegisteredClaims
	Purpose string `json:"pur,omitempty"`
}

// Token is a freshly minted token together with its decoded claims.
type Token struct {
	Raw       string
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies tokens with one process-wide HMAC secret.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

type CodecOption func(*Codec)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec validates the secret and algorithm once at startup. An empty
// algorithm means HS256. Only the HMAC family is accepted.
func NewCodec(secret, algorithm string, opts ...CodecOption) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: signing secret is empty", common.ErrConfig)
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported signing algorithm %q", common.ErrConfig, algorithm)
	}

	c := &Codec{secret: []byte(secret), method: method, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Algorithm reports the configured JWT "alg".
func (c *Codec) Algorithm() string { return c.method.Alg() }

// Mint issues an access token for identity valid for ttl.
func (c *Codec) Mint(identity string, ttl time.Duration) (*Token, error) {
	return c.MintFor(PurposeAccess, identity, ttl)
}

// MintFor issues a token for the given purpose. Every token gets a fresh
// random UUID as its id.
func (c *Codec) MintFor(purpose, identity string, ttl time.Duration) (*Token, error) {
	if identity == "" {
		return nil, errors.New("mint: empty identity")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("mint: non-positive ttl %s", ttl)
	}

	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: purpose,
	}

	raw, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}

	return &Token{
		Raw:       raw,
		ID:        claims.ID,
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks an access token: signature first, then expiry.
func (c *Codec) Verify(raw string) (*Claims, error) {
	return c.VerifyFor(PurposeAccess, raw)
}

// VerifyFor is Verify for a specific purpose.
func (c *Codec) VerifyFor(purpose, raw string) (*Claims, error) {
	claims, err := c.parse(raw, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: unexpected purpose %q", common.ErrMalformedToken, claims.Purpose)
	}
	return claims, nil
}

// VerifySignature checks structure and signature but not time-based claims,
// so expired tokens can still be logged out.
func (c *Codec) VerifySignature(raw string) (*Claims, error) {
	return c.parse(raw, jwt.WithoutClaimsValidation())
}

func (c *Codec) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
	)

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	if claims.ID == "" || claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", common.ErrMalformedToken)
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", common.ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", common.ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", common.ErrMalformedToken, err)
	}
}
