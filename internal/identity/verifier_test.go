package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signHMAC(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": "user-123",
		"iss": "storefront",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier(JWTConfig{})
	require.Error(t, err)
	require.EqualError(t, err, "identity: jwt secret must be provided")
}

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "storefront"})
	require.NoError(t, err)

	claims := baseClaims()
	claims["preferred_username"] = "jo.admin"
	claims["email"] = "jo@example.com"
	claims["roles"] = []string{"editor"}
	claims["realm_access"] = map[string]any{"roles": []string{"admin"}}

	principal, err := verifier.Verify(context.Background(), signHMAC(t, testSecret, jwt.SigningMethodHS256, claims))
	require.NoError(t, err)
	require.Equal(t, "user-123", principal.Subject)
	require.Equal(t, "jo.admin", principal.Name)
	require.Equal(t, "jo@example.com", principal.Email)
	require.True(t, principal.HasRole("editor"))
	require.True(t, principal.HasRole("ADMIN"))
	require.False(t, principal.HasRole("viewer"))
	require.WithinDuration(t, time.Now().Add(time.Hour), principal.ExpiresAt, time.Minute)
}

func TestJWTVerifierPrefersNameClaim(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	claims := baseClaims()
	claims["name"] = "Jo Admin"
	claims["preferred_username"] = "jo.admin"

	principal, err := verifier.Verify(context.Background(), signHMAC(t, testSecret, jwt.SigningMethodHS256, claims))
	require.NoError(t, err)
	require.Equal(t, "Jo Admin", principal.Name)
}

func TestJWTVerifierRejectsExpiredToken(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	claims := baseClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	_, err = verifier.Verify(context.Background(), signHMAC(t, testSecret, jwt.SigningMethodHS256, claims))
	require.Error(t, err)
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signHMAC(t, "other-secret", jwt.SigningMethodHS256, baseClaims()))
	require.Error(t, err)
}

func TestJWTVerifierRejectsUnexpectedAlgorithm(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signHMAC(t, testSecret, jwt.SigningMethodHS512, baseClaims()))
	require.Error(t, err)
}

func TestJWTVerifierRejectsWrongIssuer(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "storefront"})
	require.NoError(t, err)

	claims := baseClaims()
	claims["iss"] = "someone-else"

	_, err = verifier.Verify(context.Background(), signHMAC(t, testSecret, jwt.SigningMethodHS256, claims))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid issuer")
}

func TestJWTVerifierRequiresSubject(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	claims := baseClaims()
	delete(claims, "sub")

	_, err = verifier.Verify(context.Background(), signHMAC(t, testSecret, jwt.SigningMethodHS256, claims))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing subject")
}

func TestJWTVerifierRejectsEmptyToken(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), "  ")
	require.Error(t, err)
}

func TestNewVerifierModeDispatch(t *testing.T) {
	verifier, err := NewVerifier(context.Background(), Config{JWT: JWTConfig{Secret: testSecret}})
	require.NoError(t, err)
	require.IsType(t, &jwtVerifier{}, verifier)

	_, err = NewVerifier(context.Background(), Config{Mode: "oidc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "issuer must be provided")

	_, err = NewVerifier(context.Background(), Config{Mode: "saml"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported auth mode")
}

// fakeIssuer serves an OIDC discovery document plus a JWKS for a generated
// RSA key so ID tokens can be verified end to end.
type fakeIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := &fakeIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer.server.URL,
			"authorization_endpoint": issuer.server.URL + "/auth",
			"token_endpoint":         issuer.server.URL + "/token",
			"jwks_uri":               issuer.server.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		pub := &issuer.key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})

	issuer.server = httptest.NewServer(mux)
	t.Cleanup(issuer.server.Close)
	return issuer
}

func (f *fakeIssuer) signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func TestOIDCVerifierEndToEnd(t *testing.T) {
	issuer := newFakeIssuer(t)
	ctx := context.Background()

	verifier, err := NewOIDCVerifier(ctx, OIDCConfig{
		Issuer:     issuer.server.URL,
		ClientID:   "storefront-api",
		HTTPClient: issuer.server.Client(),
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	now := time.Now()
	principal, err := verifier.Verify(ctx, issuer.signIDToken(t, jwt.MapClaims{
		"iss":          issuer.server.URL,
		"aud":          "storefront-api",
		"sub":          "keycloak-user",
		"iat":          now.Unix(),
		"exp":          now.Add(time.Hour).Unix(),
		"name":         "Key Cloak",
		"email":        "kc@example.com",
		"realm_access": map[string]any{"roles": []string{"admin"}},
	}))
	require.NoError(t, err)
	require.Equal(t, "keycloak-user", principal.Subject)
	require.Equal(t, "Key Cloak", principal.Name)
	require.Equal(t, "kc@example.com", principal.Email)
	require.True(t, principal.HasRole("admin"))

	// Audience mismatch.
	_, err = verifier.Verify(ctx, issuer.signIDToken(t, jwt.MapClaims{
		"iss": issuer.server.URL,
		"aud": "another-client",
		"sub": "keycloak-user",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}))
	require.Error(t, err)

	// Expired token.
	_, err = verifier.Verify(ctx, issuer.signIDToken(t, jwt.MapClaims{
		"iss": issuer.server.URL,
		"aud": "storefront-api",
		"sub": "keycloak-user",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	}))
	require.Error(t, err)
}

func TestNewOIDCVerifierValidatesConfig(t *testing.T) {
	_, err := NewOIDCVerifier(context.Background(), OIDCConfig{ClientID: "abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "issuer must be provided")

	_, err = NewOIDCVerifier(context.Background(), OIDCConfig{Issuer: "https://issuer.example.com"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "client id must be provided")
}
