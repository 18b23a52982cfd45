package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const defaultDiscoveryTimeout = 10 * time.Second

// Verifier validates a raw bearer token and returns the principal it
// represents. Implementations must reject expired, malformed, or
// wrongly-signed tokens.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// Config selects and configures the token verifier.
type Config struct {
	// Mode is "jwt" for locally-issued HMAC tokens or "oidc" for tokens
	// issued by an external identity provider. Empty defaults to "jwt".
	Mode string
	JWT  JWTConfig
	OIDC OIDCConfig
}

// JWTConfig configures the HMAC verifier.
type JWTConfig struct {
	Secret string
	Issuer string
	Clock  func() time.Time
}

// OIDCConfig configures the OIDC verifier. Discovery runs once at
// construction against the issuer's well-known endpoint.
type OIDCConfig struct {
	Issuer   string
	ClientID string

	// HTTPClient overrides the client used for discovery and JWKS fetches.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewVerifier builds the verifier selected by cfg.Mode.
func NewVerifier(ctx context.Context, cfg Config) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "jwt":
		return NewJWTVerifier(cfg.JWT)
	case "oidc":
		return NewOIDCVerifier(ctx, cfg.OIDC)
	default:
		return nil, fmt.Errorf("identity: unsupported auth mode %q", cfg.Mode)
	}
}

// tokenClaims covers both locally-issued tokens and Keycloak-shaped ID
// tokens: display name and roles may arrive flat or nested.
type tokenClaims struct {
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Email             string   `json:"email,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access,omitempty"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.PreferredUsername
}

func (c *tokenClaims) allRoles() []string {
	if len(c.Roles) == 0 && len(c.RealmAccess.Roles) == 0 {
		return nil
	}
	roles := make([]string, 0, len(c.Roles)+len(c.RealmAccess.Roles))
	roles = append(roles, c.Roles...)
	roles = append(roles, c.RealmAccess.Roles...)
	return roles
}

type jwtVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTVerifier constructs a verifier for HS256 tokens signed with a shared
// secret.
func NewJWTVerifier(cfg JWTConfig) (Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("identity: jwt secret must be provided")
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &jwtVerifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    now,
	}, nil
}

func (v *jwtVerifier) Verify(_ context.Context, rawToken string) (*Principal, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.New("identity: token is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)

	var claims tokenClaims
	_, err := parser.ParseWithClaims(rawToken, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("identity: parse token: %w", err)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, errors.New("identity: invalid issuer")
	}
	if claims.Subject == "" {
		return nil, errors.New("identity: missing subject claim")
	}

	principal := &Principal{
		Subject: claims.Subject,
		Name:    claims.displayName(),
		Email:   claims.Email,
		Roles:   claims.allRoles(),
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
	client   *http.Client
}

// NewOIDCVerifier constructs a verifier backed by the issuer's published
// JWKS. Construction performs discovery and fails when the issuer is
// unreachable.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (Verifier, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("identity: oidc issuer must be provided")
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errors.New("identity: oidc client id must be provided")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	provider, err := oidc.NewProvider(discoveryCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("identity: oidc discovery failed: %w", err)
	}

	return &oidcVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		client:   cfg.HTTPClient,
	}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.New("identity: token is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if v.client != nil {
		ctx = oidc.ClientContext(ctx, v.client)
	}

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("identity: verify id token: %w", err)
	}

	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("identity: decode claims: %w", err)
	}

	return &Principal{
		Subject:   idToken.Subject,
		Name:      claims.displayName(),
		Email:     claims.Email,
		Roles:     claims.allRoles(),
		ExpiresAt: idToken.Expiry,
	}, nil
}
