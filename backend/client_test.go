package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, 5*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSignInSendsProviderTokenAsBearer(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, backend.SignInPath, r.URL.Path)
		require.Equal(t, "Bearer provider-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, backend.SignInResponse{
			Success:      true,
			User:         backend.User{UID: "user-1", Email: "john@example.com"},
			SessionToken: "session-token",
			ExpiresAt:    expires,
		})
	})

	out, err := c.SignIn(context.Background(), "provider-token")
	require.NoError(t, err)
	require.Equal(t, "user-1", out.User.UID)
	require.Equal(t, "session-token", out.SessionToken)
	require.True(t, expires.Equal(out.ExpiresAt))
}

func TestSignInNon2xxIsBackendAuthFailed(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError} {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, status, backend.ErrorResponse{Message: "nope"})
		})

		_, err := c.SignIn(context.Background(), "provider-token")
		require.True(t, errors.Is(err, errors.ErrBackendAuthFailed), "status %d", status)

		var httpErr *backend.HTTPError
		require.True(t, errors.As(err, &httpErr))
		require.Equal(t, status, httpErr.StatusCode)
		require.Equal(t, "nope", httpErr.Message)
	}
}

func TestIsLoggedInUnauthorizedIsSessionExpired(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusUnauthorized, backend.ErrorResponse{Message: "expired"})
	})

	_, err := c.IsLoggedIn(context.Background(), credentials.NewSecret("stale"))
	require.True(t, errors.Is(err, errors.ErrSessionExpired))
}

func TestUnreachableBackendIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := backend.NewClient(url, time.Second)
	_, err := c.IsLoggedIn(context.Background(), credentials.NewSecret("token"))
	require.True(t, errors.Is(err, errors.ErrBackendUnavailable))
}

func TestResize(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req backend.ResizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, backend.ResizeRequest{ImageURL: "https://example.com/a.png", Width: 100, Height: 50}, req)
		writeJSON(w, http.StatusOK, backend.ResizeResponse{Success: true, ResizedURL: "http://localhost/resized_images/x.jpg"})
	})

	out, err := c.Resize(context.Background(), credentials.NewSecret("t"), backend.ResizeRequest{
		ImageURL: "https://example.com/a.png", Width: 100, Height: 50,
	})
	require.NoError(t, err)
	require.Equal(t, "http://localhost/resized_images/x.jpg", out.ResizedURL)
}

func TestUploadSendsMultipartImage(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, "picture.png", hdr.Filename)
		require.Equal(t, "png-bytes", string(data))
		writeJSON(w, http.StatusOK, backend.UploadResponse{Success: true, URL: "http://localhost/resized_images/u.png"})
	})

	out, err := c.Upload(context.Background(), credentials.NewSecret("t"), "picture.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "http://localhost/resized_images/u.png", out.URL)
}
