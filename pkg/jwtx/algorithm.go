package jwtx

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the deployment-wide signing algorithm. A deployment picks one
// and every key, token and verifier in the process is pinned to it.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	ES256 Algorithm = "ES256"
)

// ParseAlgorithm maps a configuration string onto a supported Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToUpper(strings.TrimSpace(s))) {
	case RS256:
		return RS256, nil
	case ES256:
		return ES256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrAlgorithmNotAllowed, s)
	}
}

func (a Algorithm) String() string { return string(a) }

// method returns the golang-jwt implementation for the algorithm. Callers
// must only ever pass the pinned deployment algorithm here, never a value
// read from a token header.
func (a Algorithm) method() jwt.SigningMethod {
	switch a {
	case RS256:
		return jwt.SigningMethodRS256
	case ES256:
		return jwt.SigningMethodES256
	default:
		return nil
	}
}
