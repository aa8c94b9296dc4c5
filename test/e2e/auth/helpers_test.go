package auth_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/authsdk"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for token service end-to-end tests.
 * This includes container setup, service operations, and assertions.
 */

const (
	testImageName = "tokend-test:latest"

	loginToken = "e2e-login-token-0123456789abcdef0123"
	issuer     = "tokend-e2e"
	audience   = "api.e2e"
	adminScope = "keys:admin"
)

// TestMain manages the test lifecycle, builds the Docker image once before
// all tests and cleans it up after all tests complete.
func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building token service Docker image...")

	// Build the Docker image once before all tests
	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	// Run all tests
	exitCode := m.Run()

	// Clean up the Docker image after all tests complete
	fmt.Fprintf(os.Stdout, "Cleaning up token service Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

// buildDockerImage builds the test Docker image if it doesn't exist.
func buildDockerImage() error {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/auth/Dockerfile",
		"../../../")
	cmd.Dir = "." // Ensure we're in the test directory
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil

	return cmd.Run()
}

// cleanupDockerImage removes the test Docker image.
func cleanupDockerImage() {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // Ignore errors - image might not exist
}

// baseEnv is the container environment shared by every test.
func baseEnv(algorithm string) map[string]string {
	return map[string]string{
		"AUTH_ISSUER":        issuer,
		"AUTH_AUDIENCE":      audience,
		"AUTH_ALGORITHM":     algorithm,
		"AUTH_LOGIN_TOKEN":   loginToken,
		"AUTH_DATABASE_FILE": "/data/tokend.db",
		"AUTH_KEY_MODE":      "persistent",
		"AUTH_MASTER_KEY":    "e2e-master-key-material",
		"ENV":                "test",
		"LOG_LEVEL":          "info",
		"LOG_FORMAT":         "json",
	}
}

// relaxedRateLimits raises every limit so tests making many rapid requests
// are not throttled by the production defaults.
func relaxedRateLimits(env map[string]string) map[string]string {
	for _, name := range []string{"TOKEN", "ADMIN", "PUBLIC"} {
		env["RATELIMIT_"+name+"_REQUESTS"] = "1000"
		env["RATELIMIT_"+name+"_WINDOW_SEC"] = "60"
		env["RATELIMIT_"+name+"_BURST"] = "1000"
	}
	return env
}

// startContainer starts the token service with env and returns the base URL.
func startContainer(t *testing.T, env map[string]string) (string, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env:          env,
		WaitingFor: wait.ForHTTP("/readyz").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	// Get the mapped port
	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	baseURL := fmt.Sprintf("http://%s:%s", host, mappedPort.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return baseURL, cleanup
}

// setupAuthContainer starts an ES256 token service with relaxed rate limits.
func setupAuthContainer(t *testing.T) (string, func()) {
	t.Helper()
	return startContainer(t, relaxedRateLimits(baseEnv("ES256")))
}

// setupAuthContainerWithDefaultRateLimits starts the service with DEFAULT
// rate limits. It is only for testing that rate limiting actually works.
func setupAuthContainerWithDefaultRateLimits(t *testing.T) (string, func()) {
	t.Helper()
	return startContainer(t, baseEnv("ES256"))
}

// newClient returns an SDK client holding the login token.
func newClient(baseURL string) *authsdk.Client {
	client := authsdk.NewClient(baseURL)
	client.LoginToken = loginToken
	return client
}

// login starts a session for subject with the given scope claim.
func login(t *testing.T, client *authsdk.Client, subject, scope string) *authsdk.TokenResponse {
	t.Helper()

	req := authsdk.LoginRequest{Subject: subject}
	if scope != "" {
		req.Claims = map[string]any{"scope": scope}
	}
	tokens, err := client.Login(t.Context(), req)
	require.NoError(t, err, "Login should succeed")
	assertTokenResponse(t, tokens)
	return tokens
}

// expectation is what a relying party of the e2e deployment checks.
func expectation() jwtx.Expectation {
	return jwtx.Expectation{Issuer: issuer, Audience: audience, ClockSkew: 30 * time.Second}
}

// assertTokenResponse verifies a token response has all required fields.
func assertTokenResponse(t *testing.T, resp *authsdk.TokenResponse) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.AccessToken, "Access token should not be empty")
	require.NotEmpty(t, resp.RefreshToken, "Refresh token should not be empty")
	require.NotEmpty(t, resp.SessionID, "Session id should not be empty")
	require.Equal(t, "Bearer", resp.TokenType, "Token type should be Bearer")
	require.Positive(t, resp.ExpiresIn)
	require.Greater(t, resp.RefreshExpiresIn, resp.ExpiresIn)
}

// assertUnauthorized checks that an error is the generic 401.
func assertUnauthorized(t *testing.T, err error, context string) {
	t.Helper()
	require.Error(t, err, context)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken, "%s - got: %v", context, err)
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *authsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}
