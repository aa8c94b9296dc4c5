package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// JWK is a public key in JSON Web Key format (RFC 7517). Only the public
// members of RSA and EC P-256 keys are representable.
type JWK struct {
	Kty string `json:"kty"`           // "RSA" or "EC"
	Use string `json:"use,omitempty"` // always "sig" here
	Alg string `json:"alg,omitempty"` // "RS256" or "ES256"
	Kid string `json:"kid,omitempty"`

	// RSA
	N string `json:"n,omitempty"` // modulus (base64url)
	E string `json:"e,omitempty"` // exponent (base64url)

	// EC
	Crv string `json:"crv,omitempty"` // "P-256"
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewRSAJWK builds a JWK for an RSA public key.
func NewRSAJWK(kid, use, alg string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: use,
		Alg: alg,
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// NewES256JWK builds a JWK for an ECDSA P-256 public key. Coordinates are
// left-padded to the 32-byte field size as RFC 7518 requires.
func NewES256JWK(kid, use, alg string, pub *ecdsa.PublicKey) JWK {
	xBytes := pub.X.Bytes()
	yBytes := pub.Y.Bytes()

	x := make([]byte, 32)
	y := make([]byte, 32)
	copy(x[32-len(xBytes):], xBytes)
	copy(y[32-len(yBytes):], yBytes)

	return JWK{
		Kty: "EC",
		Use: use,
		Alg: alg,
		Kid: kid,
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

// KeyPair converts a published JWK back into a verify-only KeyPair.
func (j JWK) KeyPair() (KeyPair, error) {
	alg, err := ParseAlgorithm(j.Alg)
	if err != nil {
		return KeyPair{}, err
	}
	if j.Use != "" && j.Use != "sig" {
		return KeyPair{}, fmt.Errorf("%w: use %q", ErrInvalidKey, j.Use)
	}

	var pub crypto.PublicKey
	switch j.Kty {
	case "RSA":
		nb, err := base64.RawURLEncoding.DecodeString(j.N)
		if err != nil {
			return KeyPair{}, fmt.Errorf("%w: n: %v", ErrInvalidKey, err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(j.E)
		if err != nil {
			return KeyPair{}, fmt.Errorf("%w: e: %v", ErrInvalidKey, err)
		}
		pub = &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(new(big.Int).SetBytes(eb).Int64())}

	case "EC":
		if j.Crv != "P-256" {
			return KeyPair{}, fmt.Errorf("%w: unsupported EC curve %q", ErrInvalidKey, j.Crv)
		}
		xb, err := base64.RawURLEncoding.DecodeString(j.X)
		if err != nil {
			return KeyPair{}, fmt.Errorf("%w: x: %v", ErrInvalidKey, err)
		}
		yb, err := base64.RawURLEncoding.DecodeString(j.Y)
		if err != nil {
			return KeyPair{}, fmt.Errorf("%w: y: %v", ErrInvalidKey, err)
		}
		pub = &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xb),
			Y:     new(big.Int).SetBytes(yb),
		}

	default:
		return KeyPair{}, fmt.Errorf("%w: unsupported kty %q", ErrInvalidKey, j.Kty)
	}

	return NewPublicKeyPair(j.Kid, alg, pub, time.Time{}, time.Time{})
}

// KeyPairs converts every key in the set, failing on the first bad one.
func (s JWKS) KeyPairs() ([]KeyPair, error) {
	out := make([]KeyPair, 0, len(s.Keys))
	for _, j := range s.Keys {
		kp, err := j.KeyPair()
		if err != nil {
			return nil, fmt.Errorf("jwk %q: %w", j.Kid, err)
		}
		out = append(out, kp)
	}
	return out, nil
}

// PEM renders the JWK's public key as a PKIX PEM block.
func (j JWK) PEM() (string, error) {
	kp, err := j.KeyPair()
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(kp.Public())
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
