package app

import (
	"errors"

	"kanva/cmd/security/token"
)

// hmacMinKeyBytes is the floor for an HMAC-SHA256 secret, measured in bytes
// (not runes) because the key is used as raw bytes.
const hmacMinKeyBytes = 32

// ValidateSecurityConfig enforces Kanva's security policy at startup.
//
// Fail-fast is intentional: silently falling back to weaker hashing of invite
// tokens in production is unacceptable. The check runs a throwaway value
// through the same enforced-HMAC path invite creation relies on, so the exact
// code path is proven working before the server accepts traffic.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	enforced, err := token.HashInviteTokenHexRequireHMAC("kanva-policy-check", hmacMinKeyBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: KANVA_REQUIRE_TOKEN_HMAC=true but KANVA_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: KANVA_REQUIRE_TOKEN_HMAC=true but KANVA_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// The default hasher must agree with enforced mode, or invite creation
	// would store SHA fallback digests under policy.
	if enforced != token.HashInviteTokenHex("kanva-policy-check") {
		return errors.New("security policy: KANVA_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
