package authninfra

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/trust/authn"
)

// HTTPIdentityConnector verifies user credentials against an external
// identity service over its JSON API. The service owns the actual
// protocol (SAML, OIDC, LDAP behind it); this connector only speaks the
// verification endpoint.
type HTTPIdentityConnector struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

// NewHTTPIdentityConnector creates the connector from configuration.
func NewHTTPIdentityConnector(cfg *config.AuthnConfig) *HTTPIdentityConnector {
	timeout := cfg.IdentityProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPIdentityConnector{
		baseURL:  cfg.IdentityProviderURL,
		apiToken: cfg.IdentityProviderToken,
		client:   &http.Client{Timeout: timeout},
	}
}

var _ authn.IdentityConnector = (*HTTPIdentityConnector)(nil)

type identityResponse struct {
	Status     string   `json:"status"`
	Username   string   `json:"username"`
	Groups     []string `json:"groups"`
	StateToken string   `json:"stateToken"`
}

// Authenticate performs the primary credential leg.
func (c *HTTPIdentityConnector) Authenticate(ctx context.Context, username, password string) (*authn.IdentityResult, error) {
	return c.post(ctx, "/api/v1/authn", map[string]string{
		"username": username,
		"password": password,
	})
}

// MFACheck performs the second-factor leg.
func (c *HTTPIdentityConnector) MFACheck(ctx context.Context, stateToken, deviceID, otp string) (*authn.IdentityResult, error) {
	return c.post(ctx, "/api/v1/authn/verify", map[string]string{
		"stateToken": stateToken,
		"deviceId":   deviceID,
		"passCode":   otp,
	})
}

func (c *HTTPIdentityConnector) post(ctx context.Context, path string, body map[string]string) (*authn.IdentityResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errx.Wrap(err, "failed to encode identity request", errx.TypeInternal)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errx.Wrap(err, "failed to build identity request", errx.TypeInternal)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "SSWS "+c.apiToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errx.Wrap(err, "identity provider unreachable", errx.TypeExternal)
	}
	defer resp.Body.Close()

	// 401 is the provider's way of saying "bad credentials"; it still
	// maps to a denied result, not a transport error.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &authn.IdentityResult{Status: authn.StatusDenied}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errx.New("identity provider returned an unexpected status", errx.TypeExternal).
			WithDetail("status", resp.StatusCode)
	}

	var decoded identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errx.Wrap(err, "failed to decode identity response", errx.TypeExternal)
	}

	res := &authn.IdentityResult{
		Username:   decoded.Username,
		Groups:     decoded.Groups,
		StateToken: decoded.StateToken,
	}
	switch decoded.Status {
	case "SUCCESS":
		res.Status = authn.StatusSuccess
	case "MFA_REQUIRED":
		res.Status = authn.StatusMFARequired
	default:
		res.Status = authn.StatusDenied
	}
	return res, nil
}
