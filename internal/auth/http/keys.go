package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/pkg/authsdk"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
)

// KeysHandler handles signing key rotation and listing. All endpoints
// require the keys:admin scope.
type KeysHandler struct {
	KeyRotation *service.KeyRotationService
}

// HandleRotate handles POST /v1/keys/rotate
//
//	@Summary		Rotate signing keys
//	@Description	Generates a new signing key and makes it active. The previous key stays verifiable until its grace period ends.
//	@Description	Returns 409 when keys are managed externally (file key mode).
//	@Tags			Keys
//	@Produce		json
//	@Success		200	{object}	authsdk.RotateKeyResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - requires keys:admin scope"
//	@Failure		409	{object}	authsdk.ErrorResponse	"Keys are managed externally"
//	@Failure		500	{object}	authsdk.ErrorResponse	"Internal Server Error"
//	@Security		BearerAuth
//	@Router			/v1/keys/rotate [post]
func (h *KeysHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	if h.KeyRotation == nil {
		authsdk.ErrServerError.WriteError(w)
		return
	}

	info, err := h.KeyRotation.Rotate(r.Context())
	if errors.Is(err, service.ErrExternalKeys) {
		authsdk.ErrKeysManagedExternally.WriteError(w)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RotateKeyResponse{
		NewKey:   keyInfoToSDK(info),
		KeyCount: len(h.KeyRotation.ListKeys()),
	})
}

// HandleListKeys handles GET /v1/keys
//
//	@Summary		List signing keys
//	@Description	Lists every key the service can currently sign or verify with, active key first.
//	@Tags			Keys
//	@Produce		json
//	@Success		200	{object}	authsdk.ListKeysResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - requires keys:admin scope"
//	@Security		BearerAuth
//	@Router			/v1/keys [get]
func (h *KeysHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	if h.KeyRotation == nil {
		authsdk.ErrServerError.WriteError(w)
		return
	}

	keys := h.KeyRotation.ListKeys()
	out := authsdk.ListKeysResponse{Keys: make([]authsdk.SigningKeyInfo, len(keys))}
	for i, k := range keys {
		out.Keys[i] = keyInfoToSDK(k)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func keyInfoToSDK(k service.KeyInfo) authsdk.SigningKeyInfo {
	return authsdk.SigningKeyInfo{
		Kid:       k.Kid,
		Algorithm: k.Algorithm,
		Active:    k.Active,
		NotBefore: k.NotBefore,
		NotAfter:  k.NotAfter,
	}
}
