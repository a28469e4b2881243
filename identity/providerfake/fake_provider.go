package providerfake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/identity"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
)

var (
	_ identity.Provider  = (*FakeProvider)(nil)
	_ identity.Exchanger = (*FakeExchanger)(nil)
)

// FakeProvider is an in-memory identity provider. Interactive sign-ins hand out the
// configured accounts in order and cache the issued token.
type FakeProvider struct {
	lock sync.Mutex

	cached   []string
	accounts []string
	issued   int

	// SilentFailures makes the next n non-interactive calls fail with a transient error.
	SilentFailures int
	// InteractiveErr fails every interactive call when set.
	InteractiveErr error
	// BlockInteractive makes interactive calls wait for the context to end.
	BlockInteractive bool
	// RevokeErr and SignOutErr are returned by RevokeToken and SignOut when set.
	RevokeErr  error
	SignOutErr error

	Calls    []identity.GetTokenOptions
	Removed  []string
	Revoked  []string
	SignOuts int
}

// NewFakeProvider returns a provider whose interactive sign-ins yield tokens for accounts
// in turn. Tokens look like "<account>-token-<n>".
func NewFakeProvider(accounts ...string) *FakeProvider {
	return &FakeProvider{accounts: accounts}
}

func (fp *FakeProvider) GetToken(ctx context.Context, opts identity.GetTokenOptions) (string, error) {
	fp.lock.Lock()
	fp.Calls = append(fp.Calls, opts)

	if !opts.Interactive {
		defer fp.lock.Unlock()
		if fp.SilentFailures > 0 {
			fp.SilentFailures--
			return "", errors.New("transient provider failure")
		}
		if len(fp.cached) == 0 {
			return "", errors.ErrNoTokenAvailable
		}
		return fp.cached[len(fp.cached)-1], nil
	}

	if fp.BlockInteractive {
		fp.lock.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	defer fp.lock.Unlock()

	if fp.InteractiveErr != nil {
		return "", fp.InteractiveErr
	}
	if len(fp.accounts) == 0 {
		return "", errors.New("user closed the consent window")
	}
	account := fp.accounts[0]
	if len(fp.accounts) > 1 {
		fp.accounts = fp.accounts[1:]
	}
	fp.issued++
	token := fmt.Sprintf("%s-token-%d", account, fp.issued)
	fp.cached = append(fp.cached, token)
	return token, nil
}

// Cache puts token into the local cache as if an earlier sign-in had stored it.
func (fp *FakeProvider) Cache(tokens ...string) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.cached = append(fp.cached, tokens...)
}

func (fp *FakeProvider) Cached() []string {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	out := make([]string, len(fp.cached))
	copy(out, fp.cached)
	return out
}

func (fp *FakeProvider) RemoveCachedToken(_ context.Context, token string) error {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	fp.Removed = append(fp.Removed, token)
	for i, t := range fp.cached {
		if t == token {
			fp.cached = append(fp.cached[:i], fp.cached[i+1:]...)
			break
		}
	}
	return nil
}

func (fp *FakeProvider) RevokeToken(_ context.Context, token string) error {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	if fp.RevokeErr != nil {
		return fp.RevokeErr
	}
	fp.Revoked = append(fp.Revoked, token)
	return nil
}

func (fp *FakeProvider) SignOut(_ context.Context) error {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	if fp.SignOutErr != nil {
		return fp.SignOutErr
	}
	fp.SignOuts++
	return nil
}

// Snapshot returns copies of the recorded calls.
func (fp *FakeProvider) Snapshot() (removed, revoked []string, signOuts int) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return append([]string(nil), fp.Removed...), append([]string(nil), fp.Revoked...), fp.SignOuts
}

// FakeExchanger signs in any token of the form "<account>-token-<n>" as account.
type FakeExchanger struct {
	lock     sync.Mutex
	sessions int

	Now      func() time.Time
	Lifetime time.Duration
	// Err fails every sign-in when set.
	Err   error
	Calls []string
}

func NewFakeExchanger(now func() time.Time, lifetime time.Duration) *FakeExchanger {
	return &FakeExchanger{Now: now, Lifetime: lifetime}
}

func (fe *FakeExchanger) SignIn(_ context.Context, providerToken string) (*backend.SignInResponse, error) {
	fe.lock.Lock()
	defer fe.lock.Unlock()

	fe.Calls = append(fe.Calls, providerToken)
	if fe.Err != nil {
		return nil, fe.Err
	}

	account, _, _ := strings.Cut(providerToken, "-token-")
	fe.sessions++
	return &backend.SignInResponse{
		Success: true,
		User: backend.User{
			UID:         account,
			Email:       account + "@example.com",
			DisplayName: account,
		},
		SessionToken: fmt.Sprintf("session-%s-%d", account, fe.sessions),
		ExpiresAt:    fe.Now().Add(fe.Lifetime),
	}, nil
}
