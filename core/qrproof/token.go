// Package qrproof implements the rotating QR proof-of-presence protocol.
//
// The teacher side mints a short-lived signed token bound to a session and rotates it on a fixed
// interval; students scan the QR code and redeem the token at most once per session.
package qrproof

import (
	"crypto/sha256"
	"io"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"github.com/trezcool/presence/core"
)

// DefaultTTL is how long a minted token stays redeemable.
const DefaultTTL = 120 * time.Second

const tokenAudience = "presence:qr"

var (
	hkdfSalt = []byte("presence.core.qrproof.token")

	ErrInvalidQrFormat = core.NewVerificationError(
		core.ReasonInvalidQrFormat,
		"this is not a valid attendance QR code: scan the code displayed by your teacher",
	)
	ErrWrongSession = core.NewVerificationError(
		core.ReasonInvalidQrFormat,
		"this QR code belongs to another class session: scan the code displayed in your classroom",
	)
	ErrTokenExpiredOrReused = core.NewVerificationError(
		core.ReasonTokenExpiredOrReused,
		"this QR code has expired or was already used: scan the code currently on screen",
	)
)

// Token is a minted proof-of-presence token.
type Token struct {
	Token      string    `json:"token" cbor:"1,keyasint"`
	TokenID    string    `json:"tokenId" cbor:"2,keyasint"`
	SessionID  string    `json:"sessionId" cbor:"3,keyasint"`
	IssuedAt   time.Time `json:"issuedAt" cbor:"4,keyasint"`
	TTLSeconds int       `json:"ttlSeconds" cbor:"5,keyasint"`
}

func (t Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.TTLSeconds) * time.Second)
}

// Expired reports whether t is no longer redeemable at now.
// A token is only redeemable strictly before IssuedAt + TTL.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// Claims are the signed contents of a token.
type Claims struct {
	jwt.StandardClaims
	SessionID string `json:"sid"`
}

// Signer signs and verifies tokens with a key derived from the deployment secret.
type Signer struct {
	key []byte
	ttl time.Duration
}

func NewSigner(secretKey string, ttl time.Duration) (*Signer, error) {
	if secretKey == "" {
		return nil, errors.New("empty secret key")
	}
	if ttl < time.Second {
		ttl = DefaultTTL
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secretKey), hkdfSalt, []byte(tokenAudience)), key); err != nil {
		return nil, errors.Wrap(err, "deriving signing key")
	}
	return &Signer{key: key, ttl: ttl}, nil
}

// Sign mints a new token for sessionID issued at now.
func (s *Signer) Sign(sessionID string, now time.Time) (Token, error) {
	now = now.UTC().Truncate(time.Second)
	id := uuid.New().String()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        id,
			Audience:  tokenAudience,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		SessionID: sessionID,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Token{}, errors.Wrap(err, "signing token")
	}
	return Token{
		Token:      ss,
		TokenID:    id,
		SessionID:  sessionID,
		IssuedAt:   now,
		TTLSeconds: int(s.ttl / time.Second),
	}, nil
}

// Parse verifies raw's signature and returns its claims.
// Expiry is not checked here: callers compare against the current token with their own clock.
func (s *Signer) Parse(raw string) (Claims, error) {
	var claims Claims
	parser := jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
		SkipClaimsValidation: true,
	}
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidQrFormat.With(err)
	}
	if claims.Audience != tokenAudience || claims.Id == "" || claims.SessionID == "" {
		return Claims{}, ErrInvalidQrFormat
	}
	return claims, nil
}

// token rebuilds the Token view of verified claims.
func (c Claims) token(raw string) Token {
	return Token{
		Token:      raw,
		TokenID:    c.Id,
		SessionID:  c.SessionID,
		IssuedAt:   time.Unix(c.IssuedAt, 0).UTC(),
		TTLSeconds: int(c.ExpiresAt - c.IssuedAt),
	}
}
