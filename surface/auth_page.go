package surface

import (
	"context"

	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/credentials"
)

type AuthView struct {
	SignedIn bool
	Session  bus.SessionInfo
	Busy     bool
	Error    string
}

// AuthPage is the full-page sign-in and account switcher.
type AuthPage struct {
	*base
	sessions SessionController

	busy bool
	err  string
}

func NewAuthPage(ctx context.Context, hub *bus.Hub, store credentials.Store, sessions SessionController, opts ...Option) (*AuthPage, error) {
	b, err := newBase(hub, bus.KindAuthPage, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	a := &AuthPage{base: b, sessions: sessions}
	a.load(ctx, sessions, store)
	return a, nil
}

func (a *AuthPage) Run(ctx context.Context) error {
	return a.loop(ctx, a.handle)
}

func (a *AuthPage) handle(_ context.Context, event bus.Event) {
	if !a.apply(event) {
		return
	}
	if _, ok := event.(bus.SessionEstablished); ok {
		a.mu.Lock()
		a.err = ""
		a.mu.Unlock()
	}
}

func (a *AuthPage) View() AuthView {
	signedIn, info := a.current()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AuthView{SignedIn: signedIn, Session: info, Busy: a.busy, Error: a.err}
}

func (a *AuthPage) SignIn(ctx context.Context) error {
	return a.run(func() error {
		_, err := a.sessions.SignIn(ctx)
		return err
	})
}

// SwitchAccount signs the current account out and lets the user pick another one.
func (a *AuthPage) SwitchAccount(ctx context.Context) error {
	return a.run(func() error {
		_, err := a.sessions.SwitchAccount(ctx)
		return err
	})
}

func (a *AuthPage) run(op func() error) error {
	a.mu.Lock()
	a.busy, a.err = true, ""
	a.mu.Unlock()

	err := op()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.busy = false
	if err != nil {
		a.err = userMessage(err)
		a.logger.Warn().Err(err).Msg("sign-in failed")
	}
	return err
}
