/*
Package authsdk provides a client SDK for the tokend token service.

# Overview

The package covers both sides of a deployment that is not the token service
itself:

  - Client: calls the service's HTTP API (login, refresh, logout, userinfo,
    key management, health, JWKS).
  - Session: holds a token pair and refreshes the access token on demand.
  - RemoteVerifier: verifies access tokens locally against the published
    JWKS, for services that only consume tokens.

# Sessions

Logins are only accepted from trusted upstream services, which present the
deployment's login token:

	client := authsdk.NewClient("https://auth.example.com")
	client.LoginToken = os.Getenv("AUTH_LOGIN_TOKEN")

	session, err := client.StartSession(ctx, authsdk.LoginRequest{
		Subject: "user-42",
		Claims:  map[string]any{"scope": "profile:read"},
	})

	info, err := session.UserInfo(ctx)

A refresh token is single-use. Presenting one a second time revokes the whole
session, so a Session serialises its refreshes and callers sharing a token
pair should share the Session rather than copies of the tokens.

# Verifying tokens in another service

	verifier, err := authsdk.NewRemoteVerifier(ctx, client, jwtx.ES256, jwtx.Expectation{
		Issuer:    "auth.example",
		Audience:  "api.example",
		ClockSkew: 30 * time.Second,
	})

	mux.Handle("GET /orders", httpx.Chain(orders, httpx.AuthnMiddleware(verifier)))

A token signed with a kid the verifier has not seen triggers a JWKS reload,
rate limited by WithMinReloadInterval, which is how key rotation reaches
relying services.

# Error Handling

Every non-2xx response is returned as an *APIError and can be matched with
errors.Is against the predefined values:

	_, err := client.Refresh(ctx, token)
	if errors.Is(err, authsdk.ErrInvalidToken) {
		// log in again
	}

The service never says why a token was rejected; ErrInvalidToken covers
expiry, bad signatures, unknown keys and replayed refresh tokens alike.
*/
package authsdk
