package http

import (
	"encoding/json"
	"net/http"

	"github.com/aussiebroadwan/tokend/pkg/authsdk"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
)

// jwksMaxAge is how long relying services may cache the key set. It must
// stay well below the retire grace so a rotated-in key is picked up before
// the old one is pruned.
const jwksMaxAge = "public, max-age=300"

// JWKSHandler exposes the JSON Web Key Set for public key discovery.
//
//	@Summary		Get JWKS
//	@Description	Returns the JSON Web Key Set used to verify JWTs: the active key and every retired key still inside its validity window.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	authsdk.JWKSResponse	"The JSON Web Key Set"
//	@Header			200	{string}	Cache-Control			"public, max-age=300"
//	@Router			/.well-known/jwks.json [get].
func JWKSHandler(keys *jwtx.KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", jwksMaxAge)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(authsdk.JWKSResponse(keys.PublicJWKS()))
	}
}
