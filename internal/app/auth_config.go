package app

import (
	"strings"

	"github.com/charlesng35/storefront/internal/identity"
)

// VerifierConfig converts AuthConfig into the parameters expected by the token verifier.
func (c AuthConfig) VerifierConfig() identity.Config {
	return identity.Config{
		Mode: strings.ToLower(strings.TrimSpace(c.Mode)),
		JWT: identity.JWTConfig{
			Secret: strings.TrimSpace(c.JWT.Secret),
			Issuer: strings.TrimSpace(c.JWT.Issuer),
		},
		OIDC: identity.OIDCConfig{
			Issuer:   strings.TrimSpace(c.OIDC.Issuer),
			ClientID: strings.TrimSpace(c.OIDC.ClientID),
		},
	}
}
