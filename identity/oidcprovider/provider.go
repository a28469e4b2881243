// Package oidcprovider implements identity.Provider against an OpenID Connect issuer using the
// authorization code flow with PKCE and a loopback redirect.
package oidcprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-image-resizer/identity"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// expiryDelta is how long before its expiry a cached ID token stops being handed out.
const expiryDelta = time.Minute

var _ identity.Provider = (*Provider)(nil)

type NowTimeFunc func() time.Time

type Option func(*Provider)

// WithBrowser replaces the function used to show the consent page.
func WithBrowser(open func(url string) error) Option {
	return func(p *Provider) {
		p.openBrowser = open
	}
}

// WithOutput sets where the consent URL is printed when no browser can be opened.
func WithOutput(w io.Writer) Option {
	return func(p *Provider) {
		p.out = w
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

func WithNowTime(now NowTimeFunc) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithTokenStore sets where the provider grant is kept. The default keeps it in memory.
func WithTokenStore(store TokenStore) Option {
	return func(p *Provider) {
		p.tokens = store
	}
}

type Provider struct {
	oauth         *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	revocationURL string
	callbackPort  int

	openBrowser func(url string) error
	out         io.Writer
	httpClient  *http.Client
	logger      zerolog.Logger
	now         NowTimeFunc
	tokens      TokenStore
}

// New discovers the issuer configured in cfg.
func New(ctx context.Context, cfg config.ProviderConfig, opts ...Option) (*Provider, error) {
	p := &Provider{
		callbackPort: cfg.GetCallbackPort(),
		openBrowser:  OpenBrowser,
		out:          os.Stderr,
		httpClient:   http.DefaultClient,
		logger:       log.Logger,
		now:          time.Now,
		tokens:       NewMemoryTokenStore(),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx = oidc.ClientContext(ctx, p.httpClient)
	discovered, err := oidc.NewProvider(ctx, cfg.GetIssuerURL())
	if err != nil {
		return nil, errors.Wrapf(err, "discovering issuer %s", cfg.GetIssuerURL())
	}

	var claims struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := discovered.Claims(&claims); err != nil {
		return nil, errors.Wrapf(err, "reading discovery document")
	}

	p.revocationURL = claims.RevocationEndpoint
	p.verifier = discovered.Verifier(&oidc.Config{
		ClientID: cfg.GetClientID(),
		Now:      p.now,
	})
	p.oauth = &oauth2.Config{
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		Endpoint:     discovered.Endpoint(),
		Scopes:       cfg.GetScopes(),
	}
	return p, nil
}

func (p *Provider) GetToken(ctx context.Context, opts identity.GetTokenOptions) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	if !opts.Interactive || !opts.ForceAccountChooser {
		if token, err := p.silentToken(ctx); err == nil || !opts.Interactive {
			return token, err
		}
	}
	return p.interactiveToken(ctx, opts.ForceAccountChooser)
}

func (p *Provider) silentToken(ctx context.Context) (string, error) {
	var token string
	err := p.tokens.Update(ctx, func(g *Grant) (bool, error) {
		if g.IDToken != "" && p.now().Add(expiryDelta).Before(g.IDExpiry) {
			token = g.IDToken
			return false, nil
		}
		if g.RefreshToken == "" {
			return false, errors.ErrNoTokenAvailable
		}

		refreshed, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: g.RefreshToken}).Token()
		if err != nil {
			return false, errors.Mark(errors.Wrapf(err, "refreshing provider token"), errors.ErrNoTokenAvailable)
		}
		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = g.RefreshToken
		}
		if err := p.apply(ctx, g, refreshed); err != nil {
			return false, errors.Mark(err, errors.ErrNoTokenAvailable)
		}
		p.logger.Debug().Time("expires_at", g.IDExpiry).Msg("provider token refreshed")
		token = g.IDToken
		return true, nil
	})
	if err != nil {
		return "", errors.Mark(err, errors.ErrNoTokenAvailable)
	}
	return token, nil
}

func (p *Provider) interactiveToken(ctx context.Context, chooser bool) (string, error) {
	cb, err := startCallbackServer(p.callbackPort)
	if err != nil {
		return "", err
	}
	defer cb.close()

	cfg := *p.oauth
	cfg.RedirectURL = cb.redirectURL()

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authOpts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)}
	if chooser {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", "select_account"))
	}
	authURL := cfg.AuthCodeURL(state, authOpts...)

	if err := p.openBrowser(authURL); err != nil {
		p.logger.Warn().Err(err).Msg("could not open browser")
		fmt.Fprintf(p.out, "Open this URL to sign in:\n%s\n", authURL)
	}

	res, err := cb.wait(ctx)
	if err != nil {
		return "", err
	}
	if res.err != "" {
		return "", fmt.Errorf("authorization denied: %s", res.err)
	}
	if res.state != state {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "callback state mismatch")
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", errors.Wrapf(err, "exchanging authorization code")
	}

	var token string
	err = p.tokens.Update(ctx, func(g *Grant) (bool, error) {
		if err := p.apply(ctx, g, tok); err != nil {
			return false, err
		}
		token = g.IDToken
		return true, nil
	})
	return token, err
}

// apply verifies the id_token in tok and makes tok the current session of g.
func (p *Provider) apply(ctx context.Context, g *Grant, tok *oauth2.Token) error {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return errors.Wrapf(errors.ErrInvalidToken, "token response has no id_token")
	}
	idt, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "verifying id_token"), errors.ErrInvalidToken)
	}

	g.AccessToken = tok.AccessToken
	g.RefreshToken = tok.RefreshToken
	g.TokenType = tok.TokenType
	g.Expiry = tok.Expiry
	g.IDToken = raw
	g.IDExpiry = idt.Expiry
	if g.Revocable == nil {
		g.Revocable = map[string]string{}
	}
	if tok.RefreshToken != "" {
		g.Revocable[raw] = tok.RefreshToken
	} else {
		g.Revocable[raw] = tok.AccessToken
	}
	return nil
}

// RemoveCachedToken forgets the cached ID token. The refresh token is dropped with it so
// the next silent request cannot resurrect the same session.
func (p *Provider) RemoveCachedToken(ctx context.Context, token string) error {
	return p.tokens.Update(ctx, func(g *Grant) (bool, error) {
		if token == "" || token != g.IDToken {
			return false, nil
		}
		g.forgetSession()
		return true, nil
	})
}

// RevokeToken revokes the grant behind token at the issuer's revocation endpoint.
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	if p.revocationURL == "" {
		return errors.Wrapf(errors.ErrNotFound, "issuer has no revocation endpoint")
	}

	var target string
	err := p.tokens.Update(ctx, func(g *Grant) (bool, error) {
		grant, ok := g.Revocable[token]
		if !ok {
			target = token
			return false, nil
		}
		target = grant
		delete(g.Revocable, token)
		return true, nil
	})
	if err != nil {
		return err
	}
	return p.revoke(ctx, target)
}

func (p *Provider) revoke(ctx context.Context, target string) error {
	form := url.Values{"token": {target}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrapf(err, "building revocation request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.oauth.ClientID), url.QueryEscape(p.oauth.ClientSecret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling revocation endpoint")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// SignOut drops everything kept for the provider session, revoking any grant that is
// still outstanding.
func (p *Provider) SignOut(ctx context.Context) error {
	var outstanding []string
	err := p.tokens.Update(ctx, func(g *Grant) (bool, error) {
		seen := map[string]bool{}
		for _, grant := range g.Revocable {
			if grant != "" && !seen[grant] {
				seen[grant] = true
				outstanding = append(outstanding, grant)
			}
		}
		*g = Grant{}
		return true, nil
	})
	if err != nil {
		return err
	}

	if p.revocationURL == "" {
		return nil
	}
	var firstErr error
	for _, grant := range outstanding {
		if err := p.revoke(ctx, grant); err != nil {
			p.logger.Warn().Err(err).Msg("revoking outstanding grant")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
