package jwtx

import "errors"

// Token and key errors. Every verification failure unwraps to exactly one of
// these; callers at a trust boundary should collapse them into a single
// "unauthorized" outcome and keep the detail for logs.
var (
	ErrMalformed           = errors.New("jwtx: malformed token")
	ErrAlgorithmNotAllowed = errors.New("jwtx: algorithm not allowed")
	ErrUnknownKey          = errors.New("jwtx: unknown signing key")
	ErrBadSignature        = errors.New("jwtx: invalid signature")
	ErrIssuerMismatch      = errors.New("jwtx: issuer mismatch")
	ErrAudienceMismatch    = errors.New("jwtx: audience mismatch")
	ErrTokenExpired        = errors.New("jwtx: token expired")
	ErrTokenNotYetValid    = errors.New("jwtx: token not yet valid")
	ErrInvalidClaims       = errors.New("jwtx: invalid claims")
	ErrNoActiveKey         = errors.New("jwtx: no active signing key")
	ErrInvalidKey          = errors.New("jwtx: invalid key")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrMalformed, "malformed"},
	{ErrAlgorithmNotAllowed, "algorithm_not_allowed"},
	{ErrUnknownKey, "unknown_key"},
	{ErrBadSignature, "bad_signature"},
	{ErrIssuerMismatch, "issuer_mismatch"},
	{ErrAudienceMismatch, "audience_mismatch"},
	{ErrTokenExpired, "token_expired"},
	{ErrTokenNotYetValid, "token_not_yet_valid"},
	{ErrInvalidClaims, "invalid_claims"},
	{ErrNoActiveKey, "no_active_key"},
	{ErrInvalidKey, "invalid_key"},
}

// KindOf returns a stable, log-friendly name for the jwtx error wrapped by
// err, or "unknown" when err carries none of them.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "unknown"
}
