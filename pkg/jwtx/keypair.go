package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cryptox"
)

// KeyPair is a signing key known to a KeyStore. The private half is held in
// an unexported field and never leaves the process: there is no accessor for
// it and the JSON form of a KeyPair is its public JWK.
//
// A KeyPair built from public material only (NewPublicKeyPair) can verify but
// not sign.
type KeyPair struct {
	KeyID     string
	Algorithm Algorithm
	NotBefore time.Time
	NotAfter  time.Time // zero means no expiry

	private crypto.PrivateKey
	public  crypto.PublicKey
}

// NewKeyPair parses a PEM-encoded private key for alg. RSA keys may be PKCS1
// or PKCS8, ECDSA keys PKCS8 or SEC1 on the P-256 curve.
func NewKeyPair(kid string, alg Algorithm, pemKey []byte, notBefore, notAfter time.Time) (KeyPair, error) {
	if kid == "" {
		return KeyPair{}, fmt.Errorf("%w: empty kid", ErrInvalidKey)
	}

	block, _ := pem.Decode(pemKey)
	if block == nil {
		return KeyPair{}, fmt.Errorf("%w: invalid PEM", ErrInvalidKey)
	}

	var (
		priv crypto.PrivateKey
		pub  crypto.PublicKey
		err  error
	)
	switch alg {
	case RS256:
		var k *rsa.PrivateKey
		k, err = parseRSAPrivateKey(block)
		if err == nil {
			priv, pub = k, &k.PublicKey
		}
	case ES256:
		var k *ecdsa.PrivateKey
		k, err = parseECPrivateKey(block)
		if err == nil {
			priv, pub = k, &k.PublicKey
		}
	default:
		return KeyPair{}, fmt.Errorf("%w: %q", ErrAlgorithmNotAllowed, alg)
	}
	if err != nil {
		return KeyPair{}, err
	}

	return KeyPair{
		KeyID:     kid,
		Algorithm: alg,
		NotBefore: notBefore,
		NotAfter:  notAfter,
		private:   priv,
		public:    pub,
	}, nil
}

// NewPublicKeyPair wraps a public key as a verify-only KeyPair.
func NewPublicKeyPair(kid string, alg Algorithm, pub crypto.PublicKey, notBefore, notAfter time.Time) (KeyPair, error) {
	if kid == "" {
		return KeyPair{}, fmt.Errorf("%w: empty kid", ErrInvalidKey)
	}
	if err := checkPublicKey(alg, pub); err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		KeyID:     kid,
		Algorithm: alg,
		NotBefore: notBefore,
		NotAfter:  notAfter,
		public:    pub,
	}, nil
}

// GenerateKeyPair creates a fresh in-memory key for alg. rsaBits is ignored
// for ES256. The PEM encoding is returned alongside so callers can persist it.
func GenerateKeyPair(alg Algorithm, rsaBits int, notBefore, notAfter time.Time) (KeyPair, []byte, error) {
	var (
		pemKey []byte
		err    error
	)
	switch alg {
	case RS256:
		pemKey, err = cryptox.GenerateRSAKey(rsaBits)
	case ES256:
		pemKey, err = cryptox.GenerateES256Key()
	default:
		return KeyPair{}, nil, fmt.Errorf("%w: %q", ErrAlgorithmNotAllowed, alg)
	}
	if err != nil {
		return KeyPair{}, nil, err
	}

	kp, err := NewKeyPair(NewKeyID(), alg, pemKey, notBefore, notAfter)
	if err != nil {
		return KeyPair{}, nil, err
	}
	return kp, pemKey, nil
}

// NewKeyID returns a random, URL-safe key identifier.
func NewKeyID() string {
	return "tk-" + cryptox.MustGenerateToken(cryptox.TokenSize128)
}

// CanSign reports whether the private half is present.
func (k KeyPair) CanSign() bool { return k.private != nil }

// Public returns the public key.
func (k KeyPair) Public() crypto.PublicKey { return k.public }

// ExpiredAt reports whether now is strictly past NotAfter.
func (k KeyPair) ExpiredAt(now time.Time) bool {
	return !k.NotAfter.IsZero() && now.After(k.NotAfter)
}

// JWK returns the public JWK for the key.
func (k KeyPair) JWK() JWK {
	switch pub := k.public.(type) {
	case *rsa.PublicKey:
		return NewRSAJWK(k.KeyID, "sig", k.Algorithm.String(), pub)
	case *ecdsa.PublicKey:
		return NewES256JWK(k.KeyID, "sig", k.Algorithm.String(), pub)
	default:
		return JWK{Kid: k.KeyID, Alg: k.Algorithm.String(), Use: "sig"}
	}
}

// MarshalJSON encodes only the public JWK.
func (k KeyPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.JWK())
}

// LogValue keeps key material out of structured logs.
func (k KeyPair) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kid", k.KeyID),
		slog.String("alg", k.Algorithm.String()),
		slog.Bool("can_sign", k.CanSign()),
		slog.Time("not_after", k.NotAfter),
	)
}

// GoString keeps key material out of %#v output.
func (k KeyPair) GoString() string {
	return fmt.Sprintf("jwtx.KeyPair{KeyID:%q, Algorithm:%q}", k.KeyID, k.Algorithm)
}

func parseRSAPrivateKey(block *pem.Block) (*rsa.PrivateKey, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse PKCS1: %v", ErrInvalidKey, err)
		}
		return k, nil
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse PKCS8: %v", ErrInvalidKey, err)
		}
		k, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKey)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("%w: unsupported PEM type %q", ErrInvalidKey, block.Type)
	}
}

func parseECPrivateKey(block *pem.Block) (*ecdsa.PrivateKey, error) {
	var (
		k   *ecdsa.PrivateKey
		err error
	)
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var priv any
		priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if k, ok = priv.(*ecdsa.PrivateKey); !ok {
				return nil, fmt.Errorf("%w: not an ECDSA private key", ErrInvalidKey)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported PEM type %q", ErrInvalidKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse EC key: %v", ErrInvalidKey, err)
	}
	if k.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: ES256 requires P-256", ErrInvalidKey)
	}
	return k, nil
}

func checkPublicKey(alg Algorithm, pub crypto.PublicKey) error {
	switch alg {
	case RS256:
		if _, ok := pub.(*rsa.PublicKey); !ok {
			return fmt.Errorf("%w: RS256 requires an RSA public key", ErrInvalidKey)
		}
	case ES256:
		k, ok := pub.(*ecdsa.PublicKey)
		if !ok || k.Curve != elliptic.P256() {
			return fmt.Errorf("%w: ES256 requires a P-256 public key", ErrInvalidKey)
		}
	default:
		return fmt.Errorf("%w: %q", ErrAlgorithmNotAllowed, alg)
	}
	return nil
}

var errNoPrivateKey = errors.New("jwtx: key pair has no private key")
