package auth

import (
	"errors"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

var (
	// ErrConfig indicates an unusable verifier configuration (bad key, empty issuer).
	ErrConfig = errors.New("auth: invalid configuration")

	// ErrInvalidToken covers every verification failure. The cause is
	// deliberately not surfaced to clients.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims is the minimal identity envelope carried by an access token.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// Config describes a PASETO v4.public verifier.
type Config struct {
	// Issuer is the expected "iss" claim value.
	Issuer string

	// PublicKeyHex is the identity service's Ed25519 public key, hex encoded.
	PublicKeyHex string

	// ClockSkew tolerates minor clock differences between services.
	ClockSkew time.Duration
}

type pasetoV4PublicVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicVerifier builds a verify-only token checker from the
// identity service's public key. It enforces issuer and expiration rules.
func NewPasetoV4PublicVerifier(cfg Config) (*pasetoV4PublicVerifier, error) {
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.PublicKeyHex) == "" {
		return nil, ErrConfig
	}

	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PublicKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicVerifier{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		public:    public,
	}, nil
}

// Verify parses and validates a token, returning the user id it names.
func (v *pasetoV4PublicVerifier) Verify(token string, now time.Time) (string, error) {
	c, err := v.VerifyClaims(token, now)
	if err != nil {
		return "", err
	}
	return c.UserID, nil
}

// VerifyClaims is Verify with the full claim set, for callers that care about
// expiry (e.g. connection lifetime capping).
func (v *pasetoV4PublicVerifier) VerifyClaims(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future to avoid failing "nbf" when clocks
	// differ. This also makes expiration checks slightly stricter.
	validNow := now.Add(v.clockSkew)

	// Fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(v.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		UserID:    uid,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}
