// Package surface holds the controllers behind the extension's user-facing pages. Each
// controller owns a bus connection, reads the credential store once when it opens and then
// follows session events. Views are plain snapshots; drawing them is up to the caller.
package surface

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionController is the part of the session manager a surface may drive.
type SessionController interface {
	SignIn(ctx context.Context) (*credentials.Record, error)
	SwitchAccount(ctx context.Context) (*credentials.Record, error)
	Validate(ctx context.Context) session.State
}

var _ SessionController = (*session.Manager)(nil)

type NowTimeFunc func() time.Time

type options struct {
	logger zerolog.Logger
	now    NowTimeFunc
}

type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithNowTime(now NowTimeFunc) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: log.Logger, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// base is the connection and session bookkeeping shared by every surface.
type base struct {
	hub    *bus.Hub
	conn   *bus.Conn
	logger zerolog.Logger
	now    NowTimeFunc

	mu       sync.RWMutex
	signedIn bool
	session  bus.SessionInfo
}

func newBase(hub *bus.Hub, kind bus.Kind, o options) (*base, error) {
	conn, err := hub.Connect(bus.ChannelName(kind))
	if err != nil {
		return nil, err
	}
	return &base{
		hub:    hub,
		conn:   conn,
		logger: o.logger.With().Str("surface", conn.ID).Logger(),
		now:    o.now,
	}, nil
}

// load asks the manager to validate the stored session and then reads the store. A store
// failure reads as signed out.
func (b *base) load(ctx context.Context, sessions SessionController, store credentials.Store) {
	sessions.Validate(ctx)

	rec, err := store.Get(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("reading credential store")
		rec = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if rec == nil || rec.IsExpired(b.now()) {
		b.signedIn, b.session = false, bus.SessionInfo{}
		return
	}
	b.signedIn, b.session = true, bus.InfoFromRecord(rec)
}

// apply records the session carried by a lifecycle event. It reports false for commands.
func (b *base) apply(event bus.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch e := event.(type) {
	case bus.SessionEstablished:
		b.signedIn, b.session = true, e.Session
	case bus.SessionCleared:
		b.signedIn, b.session = false, bus.SessionInfo{}
	case bus.LogoutRequested:
		return false
	}
	return true
}

func (b *base) current() (bool, bus.SessionInfo) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.signedIn, b.session
}

// loop feeds events to handle until ctx ends or the hub drops the connection.
func (b *base) loop(ctx context.Context, handle func(context.Context, bus.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-b.conn.Events():
			if !ok {
				b.logger.Debug().Msg("bus connection closed")
				return nil
			}
			b.logger.Debug().Str("event", bus.Name(event)).Msg("event received")
			handle(ctx, event)
		}
	}
}

// ID is the surface's bus channel name.
func (b *base) ID() string {
	return b.conn.ID
}

func (b *base) Close() {
	b.hub.Disconnect(b.conn)
}
