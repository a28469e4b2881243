package surface

import (
	"context"

	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/history"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
)

type HistoryView struct {
	SignedIn bool
	Session  bus.SessionInfo
	Items    []history.Item
	Error    string
}

// HistoryPage lists the signed-in user's resizes.
type HistoryPage struct {
	*base
	history history.Store

	items []history.Item
	err   string
}

func NewHistoryPage(ctx context.Context, hub *bus.Hub, store credentials.Store, sessions SessionController, hist history.Store, opts ...Option) (*HistoryPage, error) {
	b, err := newBase(hub, bus.KindHistoryPage, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	h := &HistoryPage{base: b, history: hist}
	h.load(ctx, sessions, store)
	if signedIn, _ := h.current(); signedIn {
		if err := h.Reload(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("loading history")
		}
	}
	return h, nil
}

func (h *HistoryPage) Run(ctx context.Context) error {
	return h.loop(ctx, h.handle)
}

func (h *HistoryPage) handle(ctx context.Context, event bus.Event) {
	if !h.apply(event) {
		return
	}
	switch event.(type) {
	case bus.SessionEstablished:
		if err := h.Reload(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("reloading history")
		}
	case bus.SessionCleared:
		h.mu.Lock()
		h.items, h.err = nil, ""
		h.mu.Unlock()
	}
}

func (h *HistoryPage) View() HistoryView {
	signedIn, info := h.current()
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HistoryView{
		SignedIn: signedIn,
		Session:  info,
		Items:    append([]history.Item(nil), h.items...),
		Error:    h.err,
	}
}

// Reload reads the signed-in user's history from the store.
func (h *HistoryPage) Reload(ctx context.Context) error {
	userID, err := h.userID()
	if err != nil {
		return err
	}
	items, err := h.history.List(ctx, userID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.err = "Failed to load history"
		return err
	}
	h.items, h.err = items, ""
	return nil
}

func (h *HistoryPage) Delete(ctx context.Context, id string) error {
	userID, err := h.userID()
	if err != nil {
		return err
	}
	if err := h.history.Delete(ctx, userID, id); err != nil {
		return err
	}
	return h.Reload(ctx)
}

func (h *HistoryPage) Clear(ctx context.Context) error {
	userID, err := h.userID()
	if err != nil {
		return err
	}
	if err := h.history.Clear(ctx, userID); err != nil {
		return err
	}
	return h.Reload(ctx)
}

func (h *HistoryPage) userID() (string, error) {
	signedIn, info := h.current()
	if !signedIn || info.UserID == "" {
		return "", errors.ErrNotSignedIn
	}
	return info.UserID, nil
}
