package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Stage names a step of token verification.
type Stage string

const (
	StageDecode          Stage = "decode"
	StageResolveKey      Stage = "resolve_key"
	StageVerifySignature Stage = "verify_signature"
	StageValidateClaims  Stage = "validate_claims"
)

// VerifyError is the terminal rejection of a token. It unwraps to one of the
// package's sentinel errors.
type VerifyError struct {
	Stage Stage
	Err   error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("jwtx: rejected at %s: %v", e.Stage, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// StageOf reports the stage at which err rejected a token, if any.
func StageOf(err error) (Stage, bool) {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Stage, true
	}
	return "", false
}

// Verifier checks presented tokens against a KeyStore.
//
// The header's alg is only ever compared with the store's pinned algorithm;
// the verification routine is always the pinned one, so neither "none" nor an
// HMAC/asymmetric swap can select a different code path.
type Verifier struct {
	keys      *KeyStore
	validator *ClaimValidator
	parser    *jwt.Parser
}

func NewVerifier(keys *KeyStore, validator *ClaimValidator) *Verifier {
	if validator == nil {
		validator = NewClaimValidator()
	}
	return &Verifier{
		keys:      keys,
		validator: validator,
		parser:    jwt.NewParser(),
	}
}

// Verify runs Decode, ResolveKey, VerifySignature and ValidateClaims in
// order and returns the ClaimSet only if every stage passes.
func (v *Verifier) Verify(raw string, want Expectation) (ClaimSet, error) {
	pinned := v.keys.Algorithm()

	// Decode
	var wire wireClaims
	tok, parts, err := v.parser.ParseUnverified(raw, &wire)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return ClaimSet{}, reject(StageDecode, ErrAlgorithmNotAllowed, err)
		}
		return ClaimSet{}, reject(StageDecode, ErrMalformed, err)
	}
	if alg, _ := tok.Header["alg"].(string); alg != pinned.String() {
		return ClaimSet{}, reject(StageDecode, ErrAlgorithmNotAllowed, fmt.Errorf("header alg %q", alg))
	}
	sig, err := v.parser.DecodeSegment(parts[2])
	if err != nil {
		return ClaimSet{}, reject(StageDecode, ErrMalformed, err)
	}

	// ResolveKey
	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return ClaimSet{}, reject(StageResolveKey, ErrUnknownKey, errors.New("missing kid"))
	}
	key, err := v.keys.Resolve(kid)
	if err != nil {
		return ClaimSet{}, &VerifyError{Stage: StageResolveKey, Err: err}
	}

	// VerifySignature
	if err := pinned.method().Verify(parts[0]+"."+parts[1], sig, key.Public()); err != nil {
		return ClaimSet{}, reject(StageVerifySignature, ErrBadSignature, err)
	}

	// ValidateClaims
	claims := wire.toClaimSet()
	if err := v.validator.Validate(claims, want); err != nil {
		return ClaimSet{}, &VerifyError{Stage: StageValidateClaims, Err: err}
	}

	return claims, nil
}

func reject(stage Stage, kind, cause error) *VerifyError {
	return &VerifyError{Stage: stage, Err: fmt.Errorf("%w: %v", kind, cause)}
}
