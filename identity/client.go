package identity

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AcquireOptions controls AcquireToken.
type AcquireOptions struct {
	Interactive   bool
	SwitchAccount bool // Clears cached tokens first and forces the account chooser
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client drives the provider and the backend exchange.
type Client struct {
	provider  Provider
	exchanger Exchanger
	cfg       config.SessionConfig
	logger    zerolog.Logger

	issuedLock sync.Mutex
	issued     []string
}

func NewClient(provider Provider, exchanger Exchanger, cfg config.SessionConfig, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		exchanger: exchanger,
		cfg:       cfg,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcquireToken obtains a provider token. Non-interactive requests are retried with a fixed
// delay. Interactive requests are attempted once and bounded by the interactive timeout.
func (c *Client) AcquireToken(ctx context.Context, opts AcquireOptions) (string, error) {
	if opts.SwitchAccount {
		c.ClearCachedTokens(ctx)
		opts.Interactive = true
	}

	var (
		token string
		err   error
	)
	if opts.Interactive {
		token, err = c.acquireInteractive(ctx, opts.SwitchAccount)
	} else {
		token, err = c.acquireSilent(ctx)
	}
	if err != nil {
		return "", err
	}

	c.trackIssued(token)
	return token, nil
}

func (c *Client) acquireInteractive(ctx context.Context, chooser bool) (string, error) {
	ictx, cancel := context.WithTimeout(ctx, c.cfg.GetInteractiveTimeout())
	defer cancel()

	token, err := c.provider.GetToken(ictx, GetTokenOptions{Interactive: true, ForceAccountChooser: chooser})
	if err != nil {
		c.logger.Warn().Err(err).Msg("interactive sign-in failed")
		return "", errors.Mark(errors.Wrapf(err, "interactive sign-in"), errors.ErrProviderAuthFailed)
	}
	if token == "" {
		return "", errors.Wrapf(errors.ErrProviderAuthFailed, "provider returned an empty token")
	}
	return token, nil
}

func (c *Client) acquireSilent(ctx context.Context) (string, error) {
	attempts := c.cfg.GetTokenAcquireAttempts()
	if attempts < 1 {
		attempts = 1
	}

	token, err := backoff.Retry(ctx,
		func() (string, error) {
			token, err := c.provider.GetToken(ctx, GetTokenOptions{})
			if err != nil {
				return "", err
			}
			if token == "" {
				return "", errors.ErrNoTokenAvailable
			}
			return token, nil
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.GetTokenAcquireDelay())),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug().Err(err).Dur("retry_in", next).Msg("silent token request failed")
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, errors.ErrNoTokenAvailable) {
			return "", err
		}
		return "", errors.Mark(err, errors.ErrNoTokenAvailable)
	}
	return token, nil
}

// CachedToken returns the provider's cached token without prompting, or "" when there is none.
func (c *Client) CachedToken(ctx context.Context) string {
	token, err := c.provider.GetToken(ctx, GetTokenOptions{})
	if err != nil {
		return ""
	}
	return token
}

// RevokeToken removes token from the provider cache and revokes it remotely. Failures are
// logged and otherwise ignored.
func (c *Client) RevokeToken(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := c.provider.RemoveCachedToken(ctx, token); err != nil {
		c.logger.Warn().Err(err).Msg("removing cached provider token")
	}
	if err := c.provider.RevokeToken(ctx, token); err != nil {
		c.logger.Warn().Err(err).Msg("revoking provider token")
	}
	c.forgetIssued(token)
}

// ClearCachedTokens removes cached provider tokens one at a time until none is left or
// the removal limit is reached. It returns the number removed.
func (c *Client) ClearCachedTokens(ctx context.Context) int {
	limit := c.cfg.GetMaxCachedTokenRemovals()
	removed := 0
	for removed < limit {
		if ctx.Err() != nil {
			break
		}
		token, err := c.provider.GetToken(ctx, GetTokenOptions{})
		if err != nil || token == "" {
			break
		}
		if err := c.provider.RemoveCachedToken(ctx, token); err != nil {
			c.logger.Warn().Err(err).Msg("removing cached provider token")
			break
		}
		removed++
	}
	if removed == limit {
		c.logger.Warn().Int("limit", limit).Msg("cached token removal limit reached")
	}
	return removed
}

// SignOut ends the provider session. Failures are logged and otherwise ignored.
func (c *Client) SignOut(ctx context.Context) {
	if err := c.provider.SignOut(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("provider sign out")
	}
}

// ExchangeForSessionToken signs in to the backend with a provider token and returns the
// record to store.
func (c *Client) ExchangeForSessionToken(ctx context.Context, providerToken string) (*credentials.Record, error) {
	resp, err := c.exchanger.SignIn(ctx, providerToken)
	if err != nil {
		if errors.Is(err, errors.ErrBackendAuthFailed) {
			return nil, err
		}
		return nil, errors.Mark(errors.Wrapf(err, "backend sign-in"), errors.ErrBackendAuthFailed)
	}

	return &credentials.Record{
		UserID:         resp.User.UID,
		Email:          resp.User.Email,
		DisplayName:    resp.User.DisplayName,
		AvatarURL:      resp.User.PhotoURL,
		SessionToken:   credentials.NewSecret(resp.SessionToken),
		ExpiresAt:      resp.ExpiresAt,
		BackendProfile: resp.Profile,
	}, nil
}

// IssuedTokens returns the provider tokens handed out since the last ResetIssued.
func (c *Client) IssuedTokens() []string {
	c.issuedLock.Lock()
	defer c.issuedLock.Unlock()

	out := make([]string, len(c.issued))
	copy(out, c.issued)
	return out
}

func (c *Client) ResetIssued() {
	c.issuedLock.Lock()
	defer c.issuedLock.Unlock()
	c.issued = nil
}

func (c *Client) trackIssued(token string) {
	c.issuedLock.Lock()
	defer c.issuedLock.Unlock()
	for _, t := range c.issued {
		if t == token {
			return
		}
	}
	c.issued = append(c.issued, token)
}

func (c *Client) forgetIssued(token string) {
	c.issuedLock.Lock()
	defer c.issuedLock.Unlock()
	for i, t := range c.issued {
		if t == token {
			c.issued = append(c.issued[:i], c.issued[i+1:]...)
			return
		}
	}
}
