package surface

import (
	"context"

	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/session"
)

type PopupView struct {
	SignedIn bool
	Session  bus.SessionInfo
	Images   []Image
	Error    string
}

// Popup is the toolbar popup: who is signed in and which images the page offers.
type Popup struct {
	*base
	sessions SessionController
	source   ImageSource

	images []Image
	err    string
}

func NewPopup(ctx context.Context, hub *bus.Hub, store credentials.Store, sessions SessionController, source ImageSource, opts ...Option) (*Popup, error) {
	b, err := newBase(hub, bus.KindPopup, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	p := &Popup{base: b, sessions: sessions, source: source}
	p.load(ctx, sessions, store)
	return p, nil
}

func (p *Popup) Run(ctx context.Context) error {
	return p.loop(ctx, p.handle)
}

func (p *Popup) handle(_ context.Context, event bus.Event) {
	if !p.apply(event) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch event.(type) {
	case bus.SessionEstablished:
		p.err = ""
	case bus.SessionCleared:
		p.images = nil
	}
}

func (p *Popup) View() PopupView {
	signedIn, info := p.current()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PopupView{
		SignedIn: signedIn,
		Session:  info,
		Images:   append([]Image(nil), p.images...),
		Error:    p.err,
	}
}

// Login starts an interactive sign-in through the session manager.
func (p *Popup) Login(ctx context.Context) error {
	_, err := p.sessions.SignIn(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.err = userMessage(err)
		return err
	}
	p.err = ""
	return nil
}

// Logout asks the session manager to log out. The view changes when SessionCleared arrives.
func (p *Popup) Logout(ctx context.Context) error {
	n, err := p.hub.Send(ctx, p.conn, bus.LogoutRequested{}, bus.Include(session.ConnName))
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrInternal, "session manager is not listening")
	}
	return nil
}

// ScanImages reloads the page images that can be resized.
func (p *Popup) ScanImages(ctx context.Context) ([]Image, error) {
	if p.source == nil {
		return nil, nil
	}
	raw, err := p.source.Images(ctx)
	if err != nil {
		p.mu.Lock()
		p.err = "Failed to scan images"
		p.mu.Unlock()
		return nil, err
	}
	images := FilterImages(raw)
	p.mu.Lock()
	p.images = images
	p.mu.Unlock()
	return append([]Image(nil), images...), nil
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, errors.ErrOperationInProgress):
		return "Sign-in is already in progress"
	case errors.Is(err, errors.ErrProviderAuthFailed):
		return "Sign-in was cancelled or failed, please try again"
	case errors.Is(err, errors.ErrBackendAuthFailed):
		return "The server could not verify your account"
	case errors.Is(err, errors.ErrBackendUnavailable):
		return "The server is unreachable"
	case errors.Is(err, errors.ErrNotSignedIn), errors.Is(err, errors.ErrSessionExpired):
		return "User not authenticated"
	default:
		return "Something went wrong"
	}
}
