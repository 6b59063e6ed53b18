package auth

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// DevIssuer mints and verifies tokens with an ephemeral in-process keypair.
// It stands in for the identity service during local development and smoke
// tests; tokens die with the process.
type DevIssuer struct {
	issuer string
	ttl    time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewDevIssuer generates a fresh Ed25519 keypair.
func NewDevIssuer(issuer string, ttl time.Duration) *DevIssuer {
	if strings.TrimSpace(issuer) == "" {
		issuer = "kanva-dev"
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	secret := paseto.NewV4AsymmetricSecretKey()
	return &DevIssuer{
		issuer: issuer,
		ttl:    ttl,
		secret: secret,
		public: secret.Public(),
	}
}

// PublicKeyHex exports the public half, e.g. for a second process to verify
// against.
func (d *DevIssuer) PublicKeyHex() string {
	return d.public.ExportHex()
}

// Issue signs a token for userID.
func (d *DevIssuer) Issue(userID string, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(d.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(d.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("uid", userID)

	return tok.V4Sign(d.secret, nil), exp, nil
}

// Verify checks a token against the in-process keypair.
func (d *DevIssuer) Verify(token string, now time.Time) (string, error) {
	v := &pasetoV4PublicVerifier{issuer: d.issuer, public: d.public}
	return v.Verify(token, now)
}

// Insecure accepts "dev:<user_id>" tokens verbatim. Never wire it outside
// local development.
type Insecure struct{}

// Verify extracts the user id from a "dev:" token.
func (Insecure) Verify(token string, _ time.Time) (string, error) {
	userID, ok := strings.CutPrefix(strings.TrimSpace(token), "dev:")
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
