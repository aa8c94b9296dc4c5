package jwtx

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer signs ClaimSets with the KeyStore's active key. The algorithm is the
// store's deployment algorithm and cannot be chosen per call.
type Issuer struct {
	keys *KeyStore
}

func NewIssuer(keys *KeyStore) *Issuer {
	return &Issuer{keys: keys}
}

// Issue signs claims as a token of the given kind. Claims are validated
// before any key is touched; times are truncated to whole seconds.
func (i *Issuer) Issue(claims ClaimSet, kind TokenKind) (string, error) {
	if err := checkIssuable(claims, kind); err != nil {
		return "", err
	}

	key, err := i.keys.ActiveKey()
	if err != nil {
		return "", err
	}

	claims = claims.truncate()
	claims.Use = kind

	t := jwt.NewWithClaims(key.Algorithm.method(), claims.toWire())
	t.Header["kid"] = key.KeyID

	signed, err := t.SignedString(key.private)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign with %q: %w", key.KeyID, err)
	}
	return signed, nil
}

func checkIssuable(c ClaimSet, kind TokenKind) error {
	switch {
	case kind != KindAccess && kind != KindRefresh:
		return fmt.Errorf("%w: unknown token kind %q", ErrInvalidClaims, kind)
	case c.Issuer == "":
		return fmt.Errorf("%w: missing issuer", ErrInvalidClaims)
	case len(c.Audience) == 0:
		return fmt.Errorf("%w: missing audience", ErrInvalidClaims)
	case c.Subject == "":
		return fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	case c.IssuedAt.IsZero() || c.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing iat or exp", ErrInvalidClaims)
	case !c.ExpiresAt.Truncate(time.Second).After(c.IssuedAt.Truncate(time.Second)):
		return fmt.Errorf("%w: exp must be after iat", ErrInvalidClaims)
	}
	for _, aud := range c.Audience {
		if aud == "" {
			return fmt.Errorf("%w: empty audience entry", ErrInvalidClaims)
		}
	}
	return nil
}
