package server_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/server"
	"github.com/jrsteele09/go-image-resizer/token"
	"github.com/jrsteele09/go-image-resizer/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://resizer.test"

type fakeVerifier struct {
	mu         sync.Mutex
	identities map[string]*server.ProviderIdentity
}

func (v *fakeVerifier) VerifyIdentity(_ context.Context, raw string) (*server.ProviderIdentity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.identities[raw]
	if !ok {
		return nil, errors.ErrInvalidToken
	}
	return id, nil
}

type testFixture struct {
	mu         sync.Mutex
	now        time.Time
	resizedDir string
	users      *users.InMemoryRepo
	sessions   *token.Sessions
	api        *httptest.Server
	images     *httptest.Server
	client     *backend.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		now:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		resizedDir: filepath.Join(t.TempDir(), "resized"),
		users:      users.NewInMemoryRepo(),
	}
	t.Setenv("ENV", "TEST")
	t.Setenv("BASE_URL", testBaseURL)
	t.Setenv("RESIZED_DIR", f.resizedDir)
	t.Setenv("SESSION_LIFETIME", "1h")
	t.Setenv("SESSION_ISSUER", "resizer-test")
	t.Setenv("MAX_UPLOAD_BYTES", "65536")
	t.Setenv("MAX_IMAGE_PIXELS", "1000000")
	cfg := config.New()
	clock := f.Now

	signer, err := token.NewHMACSigner("server-test-secret")
	require.NoError(t, err)
	f.sessions, err = token.NewSessions(signer, token.NewInMemoryRevokedTokenCache(clock), cfg, token.WithNowTime(clock))
	require.NoError(t, err)

	verifier := &fakeVerifier{identities: map[string]*server.ProviderIdentity{
		"alice-id-token": {Subject: "google-alice", Email: "Alice@Example.com", EmailVerified: true, Name: "Alice", Picture: "https://img.test/alice.png"},
		"bob-id-token":   {Subject: "google-bob", Email: "bob@example.com", Name: "Bob"},
	}}

	f.images = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wide.png":
			w.Header().Set("Content-Type", "image/png")
			_ = png.Encode(w, imaging.New(200, 100, color.NRGBA{R: 200, A: 255}))
		case "/huge.png":
			w.Header().Set("Content-Type", "image/png")
			_ = png.Encode(w, imaging.New(1200, 1000, color.NRGBA{G: 200, A: 255}))
		case "/text":
			_, _ = w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.images.Close)

	srv, err := server.New(cfg, f.users, f.sessions, verifier,
		server.WithNowTime(clock),
		server.WithHTTPClient(f.images.Client()),
		server.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	f.api = httptest.NewServer(srv)
	t.Cleanup(f.api.Close)

	f.client = backend.NewClient(f.api.URL, 5*time.Second, backend.WithLogger(zerolog.Nop()))
	return f
}

func (f *testFixture) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *testFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *testFixture) signIn(t *testing.T, providerToken string) *backend.SignInResponse {
	t.Helper()
	resp, err := f.client.SignIn(context.Background(), providerToken)
	require.NoError(t, err)
	return resp
}

func TestSignUp(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	resp, err := f.client.SignUp(ctx, backend.SignUpRequest{Email: "Jane@Example.com", Password: "secret1", DisplayName: " Jane "})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "jane@example.com", resp.User.Email)
	require.Equal(t, "Jane", resp.User.DisplayName)
	require.NotEmpty(t, resp.User.UID)

	stored, err := f.users.GetByEmail("jane@example.com")
	require.NoError(t, err)
	require.True(t, stored.CheckPassword("secret1"))

	_, err = f.client.SignUp(ctx, backend.SignUpRequest{Email: "jane@example.com", Password: "secret1", DisplayName: "Jane"})
	require.ErrorIs(t, err, errors.ErrInvalidRequest)
	var httpErr *backend.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusConflict, httpErr.StatusCode)
}

func TestSignUpValidation(t *testing.T) {
	f := setupTestFixture(t)

	tests := []struct {
		name    string
		req     backend.SignUpRequest
		message string
	}{
		{"bad email", backend.SignUpRequest{Email: "nope", Password: "secret1", DisplayName: "J"}, "a valid email is required"},
		{"short password", backend.SignUpRequest{Email: "j@example.com", Password: "12345", DisplayName: "J"}, "password must be at least 6 characters long"},
		{"missing name", backend.SignUpRequest{Email: "j@example.com", Password: "secret1"}, "displayName is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.SignUp(context.Background(), tt.req)
			var httpErr *backend.HTTPError
			require.ErrorAs(t, err, &httpErr)
			require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
			require.Equal(t, tt.message, httpErr.Message)
		})
	}
	require.Equal(t, 0, f.users.Count())
}

func TestSignIn(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.signIn(t, "alice-id-token")
	require.True(t, resp.Success)
	require.Equal(t, "alice@example.com", resp.User.Email)
	require.Equal(t, "Alice", resp.User.DisplayName)
	require.Equal(t, "https://img.test/alice.png", resp.User.PhotoURL)
	require.True(t, f.Now().Add(time.Hour).Equal(resp.ExpiresAt), resp.ExpiresAt)
	require.Equal(t, true, resp.Profile["emailVerified"])

	claims, err := f.sessions.Parse(resp.SessionToken)
	require.NoError(t, err)
	require.Equal(t, resp.User.UID, claims.UserID)

	again := f.signIn(t, "alice-id-token")
	require.Equal(t, resp.User.UID, again.User.UID)
	require.NotEqual(t, resp.SessionToken, again.SessionToken)
	require.Equal(t, 1, f.users.Count())
}

func TestSignInLinksExistingEmailAccount(t *testing.T) {
	f := setupTestFixture(t)

	signUp, err := f.client.SignUp(context.Background(), backend.SignUpRequest{Email: "alice@example.com", Password: "secret1", DisplayName: "Al"})
	require.NoError(t, err)

	resp := f.signIn(t, "alice-id-token")
	require.Equal(t, signUp.User.UID, resp.User.UID)

	stored, err := f.users.GetBySubject("google-alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", stored.DisplayName)
	require.True(t, stored.CheckPassword("secret1"))
}

func TestSignInDoesNotLinkUnverifiedEmail(t *testing.T) {
	f := setupTestFixture(t)

	signUp, err := f.client.SignUp(context.Background(), backend.SignUpRequest{Email: "bob@example.com", Password: "secret1", DisplayName: "Bobby"})
	require.NoError(t, err)

	resp := f.signIn(t, "bob-id-token")
	require.NotEqual(t, signUp.User.UID, resp.User.UID)
	require.Empty(t, resp.User.Email)
	require.Equal(t, 2, f.users.Count())

	owner, err := f.users.GetByEmail("bob@example.com")
	require.NoError(t, err)
	require.Equal(t, signUp.User.UID, owner.ID)
	require.Empty(t, owner.ProviderSubject)
	require.True(t, owner.CheckPassword("secret1"))

	again := f.signIn(t, "bob-id-token")
	require.Equal(t, resp.User.UID, again.User.UID)
}

func TestSignInRejectsUnknownProviderToken(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.SignIn(context.Background(), "forged")
	require.ErrorIs(t, err, errors.ErrBackendAuthFailed)

	req, err := http.NewRequest(http.MethodPost, f.api.URL+backend.SignInPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIsLoggedIn(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	session := f.signIn(t, "bob-id-token")

	resp, err := f.client.IsLoggedIn(ctx, credentials.NewSecret(session.SessionToken))
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "bob@example.com", resp.User.Email)
	require.True(t, resp.ExpiresAt.Equal(session.ExpiresAt))

	_, err = f.client.IsLoggedIn(ctx, credentials.NewSecret("garbage"))
	require.ErrorIs(t, err, errors.ErrSessionExpired)

	f.advance(2 * time.Hour)
	_, err = f.client.IsLoggedIn(ctx, credentials.NewSecret(session.SessionToken))
	require.ErrorIs(t, err, errors.ErrSessionExpired)
	var httpErr *backend.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, "Session expired", httpErr.Message)
}

func TestSignOutRevokesToken(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	first := credentials.NewSecret(f.signIn(t, "alice-id-token").SessionToken)
	second := credentials.NewSecret(f.signIn(t, "alice-id-token").SessionToken)

	require.NoError(t, f.client.SignOut(ctx, first))

	_, err := f.client.IsLoggedIn(ctx, first)
	require.ErrorIs(t, err, errors.ErrSessionExpired)

	err = f.client.SignOut(ctx, first)
	require.ErrorIs(t, err, errors.ErrSessionExpired)

	_, err = f.client.IsLoggedIn(ctx, second)
	require.NoError(t, err)
}

func TestResize(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	session := credentials.NewSecret(f.signIn(t, "alice-id-token").SessionToken)

	resp, err := f.client.Resize(ctx, session, backend.ResizeRequest{ImageURL: f.images.URL + "/wide.png", Width: 100, Height: 100})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, strings.HasPrefix(resp.ResizedURL, testBaseURL+backend.ResizedPrefix+"resized_"), resp.ResizedURL)
	require.True(t, strings.HasSuffix(resp.ResizedURL, ".jpg"))

	path := strings.TrimPrefix(resp.ResizedURL, testBaseURL)
	get, err := http.Get(f.api.URL + path)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	require.Equal(t, "nosniff", get.Header.Get("X-Content-Type-Options"))

	img, err := jpeg.Decode(get.Body)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
}

func TestResizeFailures(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	session := credentials.NewSecret(f.signIn(t, "alice-id-token").SessionToken)

	tests := []struct {
		name   string
		req    backend.ResizeRequest
		status int
	}{
		{"relative url", backend.ResizeRequest{ImageURL: "/wide.png", Width: 100, Height: 100}, http.StatusBadRequest},
		{"data url", backend.ResizeRequest{ImageURL: "data:image/png;base64,AAAA", Width: 100, Height: 100}, http.StatusBadRequest},
		{"too small", backend.ResizeRequest{ImageURL: f.images.URL + "/wide.png", Width: 1, Height: 100}, http.StatusBadRequest},
		{"too tall", backend.ResizeRequest{ImageURL: f.images.URL + "/wide.png", Width: 100, Height: 100000}, http.StatusBadRequest},
		{"missing source", backend.ResizeRequest{ImageURL: f.images.URL + "/missing.png", Width: 100, Height: 100}, http.StatusInternalServerError},
		{"not an image", backend.ResizeRequest{ImageURL: f.images.URL + "/text", Width: 100, Height: 100}, http.StatusInternalServerError},
		{"too many pixels", backend.ResizeRequest{ImageURL: f.images.URL + "/huge.png", Width: 100, Height: 100}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.Resize(ctx, session, tt.req)
			var httpErr *backend.HTTPError
			require.ErrorAs(t, err, &httpErr)
			require.Equal(t, tt.status, httpErr.StatusCode)
		})
	}

	_, err := f.client.Resize(ctx, credentials.NewSecret("garbage"), backend.ResizeRequest{ImageURL: f.images.URL + "/wide.png", Width: 100, Height: 100})
	require.ErrorIs(t, err, errors.ErrSessionExpired)
}

func TestUpload(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	session := credentials.NewSecret(f.signIn(t, "alice-id-token").SessionToken)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(40, 30, color.NRGBA{B: 255, A: 255})))

	resp, err := f.client.Upload(ctx, session, "photo.png", &buf)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(resp.URL, testBaseURL+backend.ResizedPrefix+"upload_"), resp.URL)

	_, err = f.client.Upload(ctx, session, "notes.txt", strings.NewReader("hello"))
	var httpErr *backend.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)

	buf.Reset()
	require.NoError(t, png.Encode(&buf, imaging.New(1200, 1000, color.NRGBA{B: 255, A: 255})))
	_, err = f.client.Upload(ctx, session, "huge.png", &buf)
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusRequestEntityTooLarge, httpErr.StatusCode)
}

func TestUploadRequiresImageField(t *testing.T) {
	f := setupTestFixture(t)
	session := f.signIn(t, "alice-id-token").SessionToken

	req, err := http.NewRequest(http.MethodPost, f.api.URL+backend.UploadPath, strings.NewReader("--x--\r\n"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	req.Header.Set("Authorization", "Bearer "+session)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResizedFileNotFound(t *testing.T) {
	f := setupTestFixture(t)

	for _, path := range []string{"/resized_images/missing.jpg", "/resized_images/.tmp-123"} {
		resp, err := http.Get(f.api.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestCorsPreflight(t *testing.T) {
	f := setupTestFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.api.URL+backend.ResizePath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRecoverMiddleware(t *testing.T) {
	f := setupTestFixture(t)

	srv, err := server.New(config.New(), users.NewInMemoryRepo(), f.sessions, &fakeVerifier{}, server.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	handler := server.ChainMiddleware(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}, srv.APIMiddleware()...)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/anything", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":false`)
}
