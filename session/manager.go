// Package session owns the lifecycle of the signed-in session: sign-in, validation, silent
// refresh, account switching and logout. The manager is the only writer of the credential
// store and announces every change on the broadcast bus.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/identity"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	apperrors "github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// ConnName is the bus connection name used by the manager.
	ConnName = "session-manager"

	publishTimeout = 5 * time.Second
)

// IdentityClient is the part of identity.Client used by the manager.
type IdentityClient interface {
	AcquireToken(ctx context.Context, opts identity.AcquireOptions) (string, error)
	ExchangeForSessionToken(ctx context.Context, providerToken string) (*credentials.Record, error)
	CachedToken(ctx context.Context) string
	RevokeToken(ctx context.Context, token string)
	ClearCachedTokens(ctx context.Context) int
	SignOut(ctx context.Context)
	IssuedTokens() []string
	ResetIssued()
}

// SessionChecker is the part of the backend API used by the manager.
type SessionChecker interface {
	IsLoggedIn(ctx context.Context, token credentials.Secret) (*backend.IsLoggedInResponse, error)
	SignOut(ctx context.Context, token credentials.Secret) error
}

var (
	_ IdentityClient = (*identity.Client)(nil)
	_ SessionChecker = (*backend.Client)(nil)
)

type NowTimeFunc func() time.Time

type Option func(*Manager)

func WithNowTime(now NowTimeFunc) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithHub makes the manager announce session changes on hub.
func WithHub(hub *bus.Hub) Option {
	return func(m *Manager) {
		m.hub = hub
	}
}

type Manager struct {
	store    credentials.Store
	identity IdentityClient
	backend  SessionChecker
	cfg      config.SessionConfig
	hub      *bus.Hub
	now      NowTimeFunc
	logger   zerolog.Logger

	// op serialises every transition. SignIn and SwitchAccount refuse to wait for it.
	op sync.Mutex
	// shortLived is the expiry of a refreshed record that was already inside the refresh
	// threshold. Such a record is only refreshed again once it expires. Guarded by op.
	shortLived time.Time

	stateLock sync.RWMutex
	state     State
	conn      *bus.Conn
}

func NewManager(store credentials.Store, id IdentityClient, be SessionChecker, cfg config.SessionConfig, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] credential store is required")
	}
	if id == nil {
		return nil, errors.New("[NewManager] identity client is required")
	}
	if be == nil {
		return nil, errors.New("[NewManager] backend client is required")
	}

	m := &Manager{
		store:    store,
		identity: id,
		backend:  be,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.Logger,
		state:    LoggedOut,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) State() State {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) State {
	m.stateLock.Lock()
	prev := m.state
	m.state = s
	m.stateLock.Unlock()

	if prev != s {
		m.logger.Info().Stringer("from", prev).Stringer("to", s).Msg("session state changed")
	}
	return prev
}

// Current returns the stored record, treating unreadable storage as no session.
func (m *Manager) Current(ctx context.Context) *credentials.Record {
	rec, err := m.store.Get(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("reading credential store")
		return nil
	}
	return rec
}

// SignIn runs the interactive sign-in. Errors are returned to the caller and leave the
// manager logged out; nothing is retried.
func (m *Manager) SignIn(ctx context.Context) (*credentials.Record, error) {
	if !m.op.TryLock() {
		return nil, apperrors.ErrOperationInProgress
	}
	defer m.op.Unlock()

	if rec := m.Current(ctx); rec != nil && m.State() == Active && !rec.IsExpired(m.now()) {
		return rec, nil
	}

	m.setState(Authenticating)
	rec, err := m.establish(ctx, identity.AcquireOptions{Interactive: true})
	if err != nil {
		m.setState(LoggedOut)
		return nil, errors.Wrap(err, "[Manager.SignIn]")
	}
	return rec, nil
}

// SwitchAccount logs the current account out completely and then signs in with the
// provider's account chooser. A failure leaves the manager logged out with an empty store.
func (m *Manager) SwitchAccount(ctx context.Context) (*credentials.Record, error) {
	if !m.op.TryLock() {
		return nil, apperrors.ErrOperationInProgress
	}
	defer m.op.Unlock()

	m.setState(SwitchingAccount)
	m.cleanup(ctx)
	m.publish(ctx, bus.SessionCleared{Reason: bus.ReasonAccountSwitch})

	rec, err := m.establish(ctx, identity.AcquireOptions{Interactive: true, SwitchAccount: true})
	if err != nil {
		m.setState(LoggedOut)
		return nil, errors.Wrap(err, "[Manager.SwitchAccount]")
	}
	return rec, nil
}

func (m *Manager) establish(ctx context.Context, opts identity.AcquireOptions) (*credentials.Record, error) {
	token, err := m.identity.AcquireToken(ctx, opts)
	if err != nil {
		return nil, err
	}
	rec, err := m.identity.ExchangeForSessionToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	m.setState(Active)
	m.logger.Info().Object("session", rec).Msg("signed in")
	m.publish(ctx, bus.SessionEstablished{Session: bus.InfoFromRecord(rec)})
	return rec, nil
}

// Validate reconciles the stored record with the backend and returns the resulting state.
// It is called on startup and whenever a surface initialises.
func (m *Manager) Validate(ctx context.Context) State {
	m.op.Lock()
	defer m.op.Unlock()

	rec, err := m.store.Get(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("credential store unreadable, treating as signed out")
		m.clearSession(ctx, bus.ReasonValidationFails)
		return LoggedOut
	}
	if rec == nil {
		if m.setState(LoggedOut) != LoggedOut {
			m.publish(ctx, bus.SessionCleared{Reason: bus.ReasonLogout})
		}
		return LoggedOut
	}

	now := m.now()
	switch {
	case rec.ExpiresAt.IsZero():
		m.logger.Warn().Msg("stored session has no expiry")
		m.clearSession(ctx, bus.ReasonValidationFails)
		return LoggedOut
	case rec.IsExpired(now):
		m.logger.Info().Time("expired_at", rec.ExpiresAt).Msg("stored session expired, refreshing")
		return m.refreshLocked(ctx, rec)
	case m.refreshDue(rec, now):
		return m.refreshLocked(ctx, rec)
	}

	if _, err := m.backend.IsLoggedIn(ctx, rec.SessionToken); err != nil {
		if apperrors.Is(err, apperrors.ErrSessionExpired) {
			m.logger.Info().Msg("backend rejected stored session")
			m.clearSession(ctx, bus.ReasonValidationFails)
			return LoggedOut
		}
		// The record is still within its expiry, so an unreachable backend does not end it.
		m.logger.Warn().Err(err).Msg("backend session check failed, keeping cached session")
	}

	if m.setState(Active) != Active {
		m.publish(ctx, bus.SessionEstablished{Session: bus.InfoFromRecord(rec)})
	}
	return Active
}

// Refresh silently replaces the stored record with a new one for the same user. A failed
// refresh ends the session.
func (m *Manager) Refresh(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	rec := m.Current(ctx)
	if rec == nil {
		return apperrors.ErrNotSignedIn
	}
	if m.refreshLocked(ctx, rec) != Active {
		return apperrors.ErrSessionExpired
	}
	return nil
}

func (m *Manager) refreshLocked(ctx context.Context, rec *credentials.Record) State {
	m.setState(Refreshing)

	fresh, err := m.silentRecord(ctx, rec.UserID)
	if err != nil {
		m.logger.Warn().Err(err).Msg("silent refresh failed")
		m.clearSession(ctx, bus.ReasonRefreshFailed)
		return LoggedOut
	}
	if err := m.store.Put(ctx, fresh); err != nil {
		m.logger.Error().Err(err).Msg("storing refreshed session")
		m.clearSession(ctx, bus.ReasonRefreshFailed)
		return LoggedOut
	}

	m.shortLived = time.Time{}
	if fresh.Remaining(m.now()) < m.cfg.GetRefreshThreshold() {
		m.shortLived = fresh.ExpiresAt
		m.logger.Warn().Time("expires_at", fresh.ExpiresAt).Dur("threshold", m.cfg.GetRefreshThreshold()).
			Msg("backend session lifetime is shorter than the refresh threshold, refreshing again at expiry")
	}

	m.setState(Active)
	m.logger.Info().Object("session", fresh).Msg("session refreshed")
	m.publish(ctx, bus.SessionEstablished{Session: bus.InfoFromRecord(fresh)})
	return Active
}

func (m *Manager) silentRecord(ctx context.Context, userID string) (*credentials.Record, error) {
	token, err := m.identity.AcquireToken(ctx, identity.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	fresh, err := m.identity.ExchangeForSessionToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if fresh.UserID != userID {
		return nil, errors.Wrapf(apperrors.ErrBackendAuthFailed, "[Manager.Refresh] refreshed session belongs to %s", fresh.UserID)
	}
	return fresh, nil
}

// Logout ends the session everywhere. It never fails and may be called in any state.
func (m *Manager) Logout(ctx context.Context) {
	m.op.Lock()
	defer m.op.Unlock()

	m.cleanup(ctx)
	m.setState(LoggedOut)
	m.publish(ctx, bus.SessionCleared{Reason: bus.ReasonLogout})
}

// cleanup revokes and forgets every credential this process holds. Each step is attempted
// regardless of the previous ones and failures are only logged.
func (m *Manager) cleanup(ctx context.Context) {
	rec := m.Current(ctx)
	snapshot := m.identity.CachedToken(ctx)

	removed := m.identity.ClearCachedTokens(ctx)

	revoke := m.identity.IssuedTokens()
	if snapshot != "" {
		revoke = append([]string{snapshot}, revoke...)
	}
	seen := map[string]bool{}
	for _, token := range revoke {
		if seen[token] {
			continue
		}
		seen[token] = true
		m.identity.RevokeToken(ctx, token)
	}
	m.identity.ResetIssued()

	m.identity.SignOut(ctx)
	if rec != nil {
		if err := m.backend.SignOut(ctx, rec.SessionToken); err != nil {
			m.logger.Warn().Err(err).Msg("backend sign out")
		}
	}

	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error().Err(err).Msg("clearing credential store")
	}
	m.logger.Info().Int("cached_removed", removed).Int("revoked", len(seen)).Msg("session cleanup finished")
}

// clearSession drops the stored record without contacting the provider.
func (m *Manager) clearSession(ctx context.Context, reason string) {
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error().Err(err).Msg("clearing credential store")
	}
	m.setState(LoggedOut)
	m.publish(ctx, bus.SessionCleared{Reason: reason})
}

// Run refreshes the session whenever it gets close to expiry, until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.GetRefreshCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.refreshIfDue(ctx)
		}
	}
}

func (m *Manager) refreshIfDue(ctx context.Context) {
	m.op.Lock()
	defer m.op.Unlock()

	rec := m.Current(ctx)
	if rec == nil {
		return
	}
	if now := m.now(); !rec.IsExpired(now) && !m.refreshDue(rec, now) {
		return
	}
	m.refreshLocked(ctx, rec)
}

// refreshDue reports whether rec is close enough to expiry to be refreshed. Caller holds op.
func (m *Manager) refreshDue(rec *credentials.Record, now time.Time) bool {
	if rec.Remaining(now) >= m.cfg.GetRefreshThreshold() {
		return false
	}
	return !rec.ExpiresAt.Equal(m.shortLived)
}

// Listen serves commands arriving on conn and uses conn to publish session events. It
// returns when ctx is done or the connection is closed.
//
// Commands are handed to a worker so conn keeps being drained while a sign-in holds the
// manager; the hub drops connections whose buffer fills. Logout requests that arrive while
// one is already queued are merged into it.
func (m *Manager) Listen(ctx context.Context, conn *bus.Conn) error {
	m.stateLock.Lock()
	m.conn = conn
	m.stateLock.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	logouts := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-logouts:
				m.Logout(ctx)
			}
		}
	}()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-conn.Events():
			if !ok {
				return nil
			}
			switch event.(type) {
			case bus.LogoutRequested:
				select {
				case logouts <- struct{}{}:
					m.logger.Info().Msg("logout requested")
				default:
					m.logger.Debug().Msg("logout already queued")
				}
			case bus.SessionEstablished, bus.SessionCleared:
				// Announcements from other publishers need no action here.
			}
		}
	}
}

func (m *Manager) publish(ctx context.Context, event bus.Event) {
	if m.hub == nil {
		return
	}
	m.stateLock.RLock()
	conn := m.conn
	m.stateLock.RUnlock()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	n, err := m.hub.Send(sendCtx, conn, event)
	if err != nil {
		m.logger.Warn().Err(err).Str("event", bus.Name(event)).Msg("publishing session event")
		return
	}
	m.logger.Debug().Str("event", bus.Name(event)).Int("delivered", n).Msg("session event published")
}
