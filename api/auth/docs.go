// Package auth holds the Swagger document served at /swagger/ by the token service.
// Regenerate with: swag init -g internal/auth/http/router.go -o api/auth
package auth

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "AussieBroadWAN Team",
            "url": "https://github.com/aussiebroadwan/tokend"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/.well-known/jwks.json": {
            "get": {
                "description": "Returns the JSON Web Key Set used to verify JWTs: the active key and every retired key still inside its validity window.",
                "produces": ["application/json"],
                "tags": ["well-known"],
                "summary": "Get JWKS",
                "responses": {
                    "200": {
                        "description": "The JSON Web Key Set",
                        "schema": {"$ref": "#/definitions/authsdk.JWKSResponse"},
                        "headers": {"Cache-Control": {"type": "string", "description": "public, max-age=300"}}
                    }
                }
            }
        },
        "/v1/sessions": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Issues a token pair for a subject whose credentials were already validated by the calling service.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Start a session",
                "parameters": [
                    {"description": "Subject and custom claims", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.TokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "Missing or wrong login token", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "503": {"description": "No active signing key or store unavailable", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/token/refresh": {
            "post": {
                "description": "Consumes a refresh token and issues the next pair in the same session. Presenting a refresh token a second time revokes the whole session.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Rotate a refresh token",
                "parameters": [
                    {"description": "Refresh token", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.TokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "invalid_token", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/logout": {
            "post": {
                "description": "Revokes every refresh token of the session the presented refresh token belongs to.",
                "consumes": ["application/json"],
                "tags": ["Sessions"],
                "summary": "End a session",
                "parameters": [
                    {"description": "Refresh token", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.RefreshRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "invalid_token", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/userinfo": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns the verified claims of the presented access token.",
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Get token claims",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.UserInfoResponse"}},
                    "401": {"description": "Invalid or missing access token", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/keys": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Lists every key the service can currently sign or verify with, active key first.",
                "produces": ["application/json"],
                "tags": ["Keys"],
                "summary": "List signing keys",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.ListKeysResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "Forbidden - requires keys:admin scope", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/keys/rotate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Generates a new signing key and makes it active. The previous key stays verifiable until its grace period ends.",
                "produces": ["application/json"],
                "tags": ["Keys"],
                "summary": "Rotate signing keys",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.RotateKeyResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "Forbidden - requires keys:admin scope", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "409": {"description": "Keys are managed externally", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/metrics": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns a snapshot of the token counters (issued, refreshed, rejected, reuse detected, key rotations).",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Service counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.MetricsResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "Forbidden - requires keys:admin scope", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/livez": {
            "get": {
                "description": "Liveness probe endpoint returning basic service health status, uptime, and version information",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health Check Endpoint",
                "responses": {
                    "200": {"description": "status, uptime, version", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}
                }
            }
        },
        "/readyz": {
            "get": {
                "description": "Readiness probe endpoint returning service health status and checks for critical dependencies",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness Check Endpoint",
                "responses": {
                    "200": {"description": "status, uptime, version, checks", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}},
                    "503": {"description": "status, uptime, version, checks - service not ready", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "authsdk.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"}
            }
        },
        "authsdk.LoginRequest": {
            "type": "object",
            "properties": {
                "subject": {"type": "string", "example": "user-42"},
                "claims": {"type": "object", "additionalProperties": true}
            }
        },
        "authsdk.RefreshRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "authsdk.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "refresh_token": {"type": "string"},
                "token_type": {"type": "string", "example": "Bearer"},
                "expires_in": {"type": "integer", "example": 600},
                "refresh_expires_in": {"type": "integer", "example": 604800},
                "session_id": {"type": "string"}
            }
        },
        "authsdk.UserInfoResponse": {
            "type": "object",
            "properties": {
                "sub": {"type": "string", "example": "user-42"},
                "iss": {"type": "string", "example": "auth.example"},
                "aud": {"type": "array", "items": {"type": "string"}},
                "sid": {"type": "string"},
                "iat": {"type": "string"},
                "exp": {"type": "string"},
                "claims": {"type": "object", "additionalProperties": true}
            }
        },
        "authsdk.SigningKeyInfo": {
            "type": "object",
            "properties": {
                "kid": {"type": "string"},
                "alg": {"type": "string", "example": "ES256"},
                "active": {"type": "boolean"},
                "not_before": {"type": "string"},
                "not_after": {"type": "string"}
            }
        },
        "authsdk.RotateKeyResponse": {
            "type": "object",
            "properties": {
                "new_key": {"$ref": "#/definitions/authsdk.SigningKeyInfo"},
                "key_count": {"type": "integer"}
            }
        },
        "authsdk.ListKeysResponse": {
            "type": "object",
            "properties": {
                "keys": {"type": "array", "items": {"$ref": "#/definitions/authsdk.SigningKeyInfo"}}
            }
        },
        "authsdk.MetricPoint": {
            "type": "object",
            "properties": {
                "attributes": {"type": "object", "additionalProperties": {"type": "string"}},
                "value": {"type": "integer"}
            }
        },
        "authsdk.MetricsResponse": {
            "type": "object",
            "properties": {
                "counters": {"type": "object", "additionalProperties": {"type": "array", "items": {"$ref": "#/definitions/authsdk.MetricPoint"}}}
            }
        },
        "authsdk.HealthChecks": {
            "type": "object",
            "properties": {
                "store": {"type": "string"},
                "signer": {"type": "string"}
            }
        },
        "authsdk.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "uptime": {"type": "string"},
                "version": {"type": "string"},
                "checks": {"$ref": "#/definitions/authsdk.HealthChecks"}
            }
        },
        "jwtx.JWK": {
            "type": "object",
            "properties": {
                "kty": {"type": "string"},
                "use": {"type": "string"},
                "alg": {"type": "string"},
                "kid": {"type": "string"},
                "n": {"type": "string"},
                "e": {"type": "string"},
                "crv": {"type": "string"},
                "x": {"type": "string"},
                "y": {"type": "string"}
            }
        },
        "authsdk.JWKSResponse": {
            "type": "object",
            "properties": {
                "keys": {"type": "array", "items": {"$ref": "#/definitions/jwtx.JWK"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "JWT access token. Format: \"Bearer {token}\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "tokend Token Service API",
	Description:      "Issues and rotates asymmetrically signed JWT access and refresh tokens.\n\nTokens are signed with the deployment's algorithm (RS256 or ES256) and can be verified using the JWKS endpoint.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
