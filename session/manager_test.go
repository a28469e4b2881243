package session_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/credentials/repofake"
	"github.com/jrsteele09/go-image-resizer/identity"
	"github.com/jrsteele09/go-image-resizer/identity/providerfake"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

const sessionLifetime = 720 * time.Hour

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

type fakeBackend struct {
	lock            sync.Mutex
	isLoggedInErr   error
	signOutErr      error
	isLoggedInCalls []string
	signOuts        []string
}

func (fb *fakeBackend) IsLoggedIn(_ context.Context, token credentials.Secret) (*backend.IsLoggedInResponse, error) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	fb.isLoggedInCalls = append(fb.isLoggedInCalls, token.Value())
	if fb.isLoggedInErr != nil {
		return nil, fb.isLoggedInErr
	}
	return &backend.IsLoggedInResponse{Success: true}, nil
}

func (fb *fakeBackend) SignOut(_ context.Context, token credentials.Secret) error {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	fb.signOuts = append(fb.signOuts, token.Value())
	return fb.signOutErr
}

func (fb *fakeBackend) calls() (isLoggedIn, signOuts []string) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	return append([]string(nil), fb.isLoggedInCalls...), append([]string(nil), fb.signOuts...)
}

type testFixture struct {
	clock     *testClock
	store     *repofake.FakeStore
	provider  *providerfake.FakeProvider
	exchanger *providerfake.FakeExchanger
	backend   *fakeBackend
	hub       *bus.Hub
	popup     *bus.Conn
	logs      *syncBuffer
	manager   *session.Manager
}

type syncBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func testSessionConfig() config.SessionValues {
	return config.SessionValues{
		RefreshThreshold:       24 * time.Hour,
		RefreshCheckInterval:   10 * time.Millisecond,
		InteractiveTimeout:     2 * time.Second,
		TokenAcquireAttempts:   3,
		TokenAcquireDelay:      time.Millisecond,
		MaxCachedTokenRemovals: 8,
	}
}

func setupTestFixture(t *testing.T, accounts ...string) *testFixture {
	t.Helper()

	clock := &testClock{now: fixedNow}
	logs := &syncBuffer{}
	logger := zerolog.New(logs).Level(zerolog.DebugLevel)

	provider := providerfake.NewFakeProvider(accounts...)
	exchanger := providerfake.NewFakeExchanger(clock.Now, sessionLifetime)
	idClient := identity.NewClient(provider, exchanger, testSessionConfig(), identity.WithLogger(logger))

	hub := bus.NewHub(bus.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = hub.Run(ctx)
	}()

	store := repofake.NewFakeStore()
	be := &fakeBackend{}
	m, err := session.NewManager(store, idClient, be, testSessionConfig(),
		session.WithHub(hub),
		session.WithNowTime(clock.Now),
		session.WithLogger(logger),
	)
	require.NoError(t, err)

	managerConn, err := hub.Connect(session.ConnName)
	require.NoError(t, err)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Listen(ctx, managerConn)
	}()

	popup, err := hub.Connect("popup-1")
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return &testFixture{
		clock:     clock,
		store:     store,
		provider:  provider,
		exchanger: exchanger,
		backend:   be,
		hub:       hub,
		popup:     popup,
		logs:      logs,
		manager:   m,
	}
}

func (f *testFixture) seed(userID string, expiresAt time.Time) {
	f.store.Seed(&credentials.Record{
		UserID:       userID,
		Email:        userID + "@example.com",
		DisplayName:  userID,
		SessionToken: credentials.NewSecret("stored-" + userID),
		ExpiresAt:    expiresAt,
	})
}

func (f *testFixture) stored(t *testing.T) *credentials.Record {
	t.Helper()
	rec, err := f.store.Get(context.Background())
	require.NoError(t, err)
	return rec
}

func nextEvent(t *testing.T, c *bus.Conn) bus.Event {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		require.True(t, ok)
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSignInStoresRecordAndBroadcasts(t *testing.T) {
	f := setupTestFixture(t, "alice")

	rec, err := f.manager.SignIn(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", rec.UserID)
	require.Equal(t, session.Active, f.manager.State())

	stored := f.stored(t)
	require.Equal(t, "alice", stored.UserID)
	require.Equal(t, fixedNow.Add(sessionLifetime), stored.ExpiresAt)

	e := nextEvent(t, f.popup).(bus.SessionEstablished)
	require.Equal(t, "alice", e.Session.UserID)
	require.Equal(t, "alice@example.com", e.Session.Email)
}

func TestSignInFailureStaysLoggedOut(t *testing.T) {
	f := setupTestFixture(t, "alice")
	f.provider.InteractiveErr = errors.New("user closed the window")

	_, err := f.manager.SignIn(context.Background())
	require.True(t, errors.Is(err, errors.ErrProviderAuthFailed))
	require.Equal(t, session.LoggedOut, f.manager.State())
	require.Nil(t, f.stored(t))
	require.Empty(t, f.store.History())
	require.Len(t, f.provider.Calls, 1, "interactive sign-in is not retried")
}

func TestExchangeFailureStaysLoggedOut(t *testing.T) {
	f := setupTestFixture(t, "alice")
	f.exchanger.Err = errors.Mark(errors.New("401"), errors.ErrBackendAuthFailed)

	_, err := f.manager.SignIn(context.Background())
	require.True(t, errors.Is(err, errors.ErrBackendAuthFailed))
	require.Equal(t, session.LoggedOut, f.manager.State())
	require.Nil(t, f.stored(t))
}

func TestConcurrentSignInIsRejected(t *testing.T) {
	f := setupTestFixture(t, "alice")
	f.provider.BlockInteractive = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.SignIn(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return f.manager.State() == session.Authenticating
	}, time.Second, 5*time.Millisecond)

	_, err := f.manager.SignIn(context.Background())
	require.True(t, errors.Is(err, errors.ErrOperationInProgress))
	_, err = f.manager.SwitchAccount(context.Background())
	require.True(t, errors.Is(err, errors.ErrOperationInProgress))

	cancel()
	require.Error(t, <-done)
	require.Equal(t, session.LoggedOut, f.manager.State())
}

func TestValidateWithoutRecord(t *testing.T) {
	f := setupTestFixture(t)

	require.Equal(t, session.LoggedOut, f.manager.Validate(context.Background()))
	calls, _ := f.backend.calls()
	require.Empty(t, calls)
}

func TestValidateUnknownExpiryClears(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", time.Time{})

	require.Equal(t, session.LoggedOut, f.manager.Validate(context.Background()))
	require.Nil(t, f.stored(t))
	require.IsType(t, bus.SessionCleared{}, nextEvent(t, f.popup))
}

func TestValidateExpiredRefreshesWithoutUsingStaleToken(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", fixedNow.Add(-time.Hour))
	f.provider.Cache("alice-token-7")

	require.Equal(t, session.Active, f.manager.Validate(context.Background()))

	calls, _ := f.backend.calls()
	require.Empty(t, calls, "the expired token must not be sent")

	rec := f.stored(t)
	require.Equal(t, "alice", rec.UserID)
	require.NotEqual(t, "stored-alice", rec.SessionToken.Value())
	require.True(t, rec.ExpiresAt.After(fixedNow))
	require.IsType(t, bus.SessionEstablished{}, nextEvent(t, f.popup))
}

func TestValidateExpiredRefreshFailureClears(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", fixedNow.Add(-time.Hour))

	require.Equal(t, session.LoggedOut, f.manager.Validate(context.Background()))
	require.Nil(t, f.stored(t))

	e := nextEvent(t, f.popup).(bus.SessionCleared)
	require.Equal(t, bus.ReasonRefreshFailed, e.Reason)
}

func TestValidateNearExpiryRefreshes(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", fixedNow.Add(time.Hour))
	f.provider.Cache("alice-token-1")

	require.Equal(t, session.Active, f.manager.Validate(context.Background()))
	require.Equal(t, fixedNow.Add(sessionLifetime), f.stored(t).ExpiresAt)
}

func TestShortBackendLifetimeDoesNotRefreshRepeatedly(t *testing.T) {
	f := setupTestFixture(t)
	f.exchanger.Lifetime = time.Hour
	f.seed("alice", fixedNow.Add(30*time.Minute))
	f.provider.Cache("alice-token-1")
	ctx := context.Background()

	require.Equal(t, session.Active, f.manager.Validate(ctx))
	refreshed := f.stored(t)
	require.Equal(t, fixedNow.Add(time.Hour), refreshed.ExpiresAt)
	require.Contains(t, f.logs.String(), "shorter than the refresh threshold")

	// The store watcher validates again after the refreshed record is written.
	require.Equal(t, session.Active, f.manager.Validate(ctx))
	require.Equal(t, refreshed.SessionToken.Value(), f.stored(t).SessionToken.Value())
	require.Len(t, f.exchanger.Calls, 1)
	calls, _ := f.backend.calls()
	require.Equal(t, []string{refreshed.SessionToken.Value()}, calls)

	f.clock.Advance(2 * time.Hour)
	require.Equal(t, session.Active, f.manager.Validate(ctx))
	require.Len(t, f.exchanger.Calls, 2)
}

func TestValidateBackendRejectionClears(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", fixedNow.Add(48*time.Hour))
	f.backend.isLoggedInErr = errors.Mark(errors.New("401"), errors.ErrSessionExpired)

	require.Equal(t, session.LoggedOut, f.manager.Validate(context.Background()))
	require.Nil(t, f.stored(t))
}

func TestValidateBackendUnreachableKeepsCachedSession(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", fixedNow.Add(48*time.Hour))
	f.backend.isLoggedInErr = errors.Mark(errors.New("dial tcp"), errors.ErrBackendUnavailable)

	require.Equal(t, session.Active, f.manager.Validate(context.Background()))
	require.Equal(t, "stored-alice", f.stored(t).SessionToken.Value())

	calls, _ := f.backend.calls()
	require.Equal(t, []string{"stored-alice"}, calls)
}

func TestValidateStorageErrorIsLoggedOut(t *testing.T) {
	f := setupTestFixture(t)
	f.store.GetErr = errors.Mark(errors.New("bad json"), errors.ErrStorage)

	require.Equal(t, session.LoggedOut, f.manager.Validate(context.Background()))
}

func TestRefreshRejectsDifferentUser(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", fixedNow.Add(time.Hour))
	f.provider.Cache("mallory-token-1")

	err := f.manager.Refresh(context.Background())
	require.True(t, errors.Is(err, errors.ErrSessionExpired))
	require.Nil(t, f.stored(t))
	require.Equal(t, session.LoggedOut, f.manager.State())
}

func TestRefreshWithoutSession(t *testing.T) {
	f := setupTestFixture(t)
	require.True(t, errors.Is(f.manager.Refresh(context.Background()), errors.ErrNotSignedIn))
}

func TestLogoutRunsCleanupInOrder(t *testing.T) {
	f := setupTestFixture(t, "alice")

	_, err := f.manager.SignIn(context.Background())
	require.NoError(t, err)
	nextEvent(t, f.popup)

	f.manager.Logout(context.Background())

	require.Equal(t, session.LoggedOut, f.manager.State())
	require.Nil(t, f.stored(t))
	require.Empty(t, f.provider.Cached())

	_, revoked, signOuts := f.provider.Snapshot()
	require.Equal(t, []string{"alice-token-1"}, revoked)
	require.Equal(t, 1, signOuts)

	_, backendSignOuts := f.backend.calls()
	require.Equal(t, []string{"session-alice-1"}, backendSignOuts)

	e := nextEvent(t, f.popup).(bus.SessionCleared)
	require.Equal(t, bus.ReasonLogout, e.Reason)
}

func TestLogoutSwallowsFailuresAndIsIdempotent(t *testing.T) {
	f := setupTestFixture(t, "alice")

	_, err := f.manager.SignIn(context.Background())
	require.NoError(t, err)

	f.provider.RevokeErr = errors.New("revoke failed")
	f.provider.SignOutErr = errors.New("sign out failed")
	f.backend.signOutErr = errors.New("backend down")

	f.manager.Logout(context.Background())
	require.Nil(t, f.stored(t))

	f.manager.Logout(context.Background())
	require.Nil(t, f.stored(t))
	require.Equal(t, session.LoggedOut, f.manager.State())
}

func TestLogoutWithCancelledContextStillClearsStore(t *testing.T) {
	f := setupTestFixture(t)
	f.seed("alice", fixedNow.Add(48*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.manager.Logout(ctx)

	require.Nil(t, f.stored(t))
}

func TestSwitchAccountNeverMergesAccounts(t *testing.T) {
	f := setupTestFixture(t, "alice", "bob")

	_, err := f.manager.SignIn(context.Background())
	require.NoError(t, err)
	nextEvent(t, f.popup)

	rec, err := f.manager.SwitchAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bob", rec.UserID)
	require.Equal(t, session.Active, f.manager.State())

	history := f.store.History()
	require.Len(t, history, 3)
	require.Equal(t, "alice", history[0].Record.UserID)
	require.Nil(t, history[1].Record, "alice's record is removed before bob's is written")
	require.Equal(t, "bob", history[2].Record.UserID)
	require.Equal(t, "session-bob-2", history[2].Record.SessionToken.Value())

	cleared := nextEvent(t, f.popup).(bus.SessionCleared)
	require.Equal(t, bus.ReasonAccountSwitch, cleared.Reason)
	established := nextEvent(t, f.popup).(bus.SessionEstablished)
	require.Equal(t, "bob", established.Session.UserID)

	_, revoked, _ := f.provider.Snapshot()
	require.Contains(t, revoked, "alice-token-1")
}

func TestSwitchAccountFailureLeavesEmptyStore(t *testing.T) {
	f := setupTestFixture(t, "alice")

	_, err := f.manager.SignIn(context.Background())
	require.NoError(t, err)

	f.provider.InteractiveErr = errors.New("cancelled")
	_, err = f.manager.SwitchAccount(context.Background())
	require.True(t, errors.Is(err, errors.ErrProviderAuthFailed))
	require.Equal(t, session.LoggedOut, f.manager.State())
	require.Nil(t, f.stored(t))
}

func TestLogoutRequestedOnBus(t *testing.T) {
	f := setupTestFixture(t, "alice")

	_, err := f.manager.SignIn(context.Background())
	require.NoError(t, err)
	nextEvent(t, f.popup)

	_, err = f.hub.Send(context.Background(), f.popup, bus.LogoutRequested{})
	require.NoError(t, err)

	e := nextEvent(t, f.popup).(bus.SessionCleared)
	require.Equal(t, bus.ReasonLogout, e.Reason)
	require.Nil(t, f.stored(t))
}

func TestLogoutRequestsDrainedDuringSignIn(t *testing.T) {
	f := setupTestFixture(t, "alice")
	f.provider.BlockInteractive = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signIn := make(chan error, 1)
	go func() {
		_, err := f.manager.SignIn(ctx)
		signIn <- err
	}()
	require.Eventually(t, func() bool { return f.manager.State() == session.Authenticating }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 3*bus.DefaultBufferSize; i++ {
		n, err := f.hub.Send(context.Background(), f.popup, bus.LogoutRequested{}, bus.Include(session.ConnName))
		require.NoError(t, err)
		require.Equal(t, 1, n, "manager connection dropped after %d requests", i)
		time.Sleep(time.Millisecond)
	}

	cancel()
	require.Error(t, <-signIn)

	e := nextEvent(t, f.popup).(bus.SessionCleared)
	require.Equal(t, bus.ReasonLogout, e.Reason)
	require.Equal(t, session.LoggedOut, f.manager.State())

	var names []string
	for _, c := range f.hub.Connections() {
		names = append(names, c.ID)
	}
	require.Contains(t, names, session.ConnName)
}

func TestRunRefreshesNearExpiry(t *testing.T) {
	f := setupTestFixture(t, "alice")

	_, err := f.manager.SignIn(context.Background())
	require.NoError(t, err)
	nextEvent(t, f.popup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.manager.Run(ctx) }()

	f.clock.Advance(sessionLifetime - time.Hour)

	e := nextEvent(t, f.popup).(bus.SessionEstablished)
	require.Equal(t, "alice", e.Session.UserID)
	require.Equal(t, f.clock.Now().Add(sessionLifetime), e.Session.ExpiresAt)
}

func TestLogsNeverContainSessionToken(t *testing.T) {
	f := setupTestFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.manager.SignIn(ctx)
	require.NoError(t, err)
	require.NoError(t, f.manager.Refresh(ctx))
	_, err = f.manager.SwitchAccount(ctx)
	require.NoError(t, err)
	f.manager.Logout(ctx)

	logs := f.logs.String()
	require.NotEmpty(t, logs)
	for _, token := range []string{"session-alice-1", "session-alice-2", "session-bob-3"} {
		require.NotContains(t, logs, token)
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "LoggedOut", session.LoggedOut.String())
	require.Equal(t, "SwitchingAccount", session.SwitchingAccount.String())
	require.Equal(t, "Unknown", session.State(42).String())
}
