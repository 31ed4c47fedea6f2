// Package identity exchanges provider credentials for identities and tracks
// the per-session authentication state.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/starford/galleria/internal/apperr"
)

// DefaultIssuer is Google's OpenID Connect issuer.
const DefaultIssuer = "https://accounts.google.com"

// Provider is the process-wide handle on the identity provider. It is shared
// by every session's Bridge.
type Provider struct {
	issuer     string
	verify     bool
	httpClient *http.Client
	logger     *slog.Logger

	mu            sync.Mutex
	clientID      string
	oidc          *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	revocationURL string
	initErr       error
}

// NewProvider creates a provider for issuer. When verify is true, credentials
// are checked against the issuer's signing keys; otherwise claims are only decoded.
func NewProvider(issuer string, verify bool, logger *slog.Logger) *Provider {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		issuer:     strings.TrimSuffix(issuer, "/"),
		verify:     verify,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

// WithHTTPClient overrides the client used for discovery and revocation.
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	p.httpClient = c
	return p
}

// Initialize configures the provider with an application client id and loads
// the issuer's discovery document. Once it has succeeded for a client id,
// further calls with the same id are no-ops. A failed attempt may be retried.
func (p *Provider) Initialize(ctx context.Context, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.oidc != nil && p.clientID == clientID {
		return nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), p.issuer)
	if err != nil {
		p.initErr = fmt.Errorf("%w: discover %s: %w", apperr.ErrInitialization, p.issuer, err)
		return p.initErr
	}

	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		p.logger.Warn("identity: discovery claims unreadable", slog.String("error", err.Error()))
	}

	p.clientID = clientID
	p.oidc = provider
	p.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
	p.revocationURL = extra.RevocationEndpoint
	p.initErr = nil

	p.logger.Info("identity: provider initialized",
		slog.String("issuer", p.issuer),
		slog.Bool("verify_signature", p.verify))
	return nil
}

// Ready returns nil once Initialize has succeeded, otherwise the last
// initialization error.
func (p *Provider) Ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oidc != nil {
		return nil
	}
	if p.initErr != nil {
		return p.initErr
	}
	return fmt.Errorf("%w: not initialized", apperr.ErrInitialization)
}

// ClientID returns the configured application client id.
func (p *Provider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// Issuer returns the issuer URL.
func (p *Provider) Issuer() string { return p.issuer }

// Revoke asks the provider to drop token. It is best-effort: providers
// without a revocation endpoint are skipped.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	p.mu.Lock()
	endpoint := p.revocationURL
	p.mu.Unlock()

	if endpoint == "" || token == "" {
		return nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("identity: revoke: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity: revoke: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("identity: revoke: status %d", resp.StatusCode)
	}
	return nil
}
