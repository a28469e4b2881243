// Package backend is the HTTP client for the resizer backend endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SignUpPath     = "/api/auth/signup"
	SignInPath     = "/api/auth/signin"
	IsLoggedInPath = "/api/auth/is-logged-in"
	SignOutPath    = "/api/auth/signout"
	ResizePath     = "/api/resize"
	UploadPath     = "/api/upload"
	ResizedPrefix  = "/resized_images/"
)

// HTTPError is a non-2xx backend reply.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SignIn exchanges a provider token for a backend session. Any non-2xx reply is
// ErrBackendAuthFailed.
func (c *Client) SignIn(ctx context.Context, providerToken string) (*SignInResponse, error) {
	var out SignInResponse
	err := c.do(ctx, http.MethodPost, SignInPath, providerToken, nil, &out)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return nil, errors.Mark(err, errors.ErrBackendAuthFailed)
		}
		return nil, err
	}
	if out.SessionToken == "" || out.User.UID == "" {
		return nil, errors.Wrapf(errors.ErrBackendAuthFailed, "incomplete sign-in response")
	}
	return &out, nil
}

func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	var out SignUpResponse
	if err := c.do(ctx, http.MethodPost, SignUpPath, "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsLoggedIn checks the session token with the backend. A 401 reply is ErrSessionExpired.
func (c *Client) IsLoggedIn(ctx context.Context, token credentials.Secret) (*IsLoggedInResponse, error) {
	var out IsLoggedInResponse
	if err := c.do(ctx, http.MethodGet, IsLoggedInPath, token.Value(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SignOut(ctx context.Context, token credentials.Secret) error {
	return c.do(ctx, http.MethodPost, SignOutPath, token.Value(), nil, nil)
}

func (c *Client) Resize(ctx context.Context, token credentials.Secret, req ResizeRequest) (*ResizeResponse, error) {
	var out ResizeResponse
	if err := c.do(ctx, http.MethodPost, ResizePath, token.Value(), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload sends image as the multipart "image" field.
func (c *Client) Upload(ctx context.Context, token credentials.Secret, filename string, image io.Reader) (*UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, errors.Wrapf(err, "creating form file")
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, errors.Wrapf(err, "copying image")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrapf(err, "closing multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+UploadPath, &body)
	if err != nil {
		return nil, errors.Wrapf(err, "building upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token.Value())

	var out UploadResponse
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encoding %s request", path)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "building %s request", path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return errors.Mark(errors.Wrapf(err, "%s %s", req.Method, req.URL.Path), errors.ErrBackendUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "reading %s response", req.URL.Path), errors.ErrBackendUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: errResp.Message}
		c.logger.Debug().Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("backend request rejected")
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return errors.Mark(httpErr, errors.ErrSessionExpired)
		case resp.StatusCode >= 500:
			return errors.Mark(httpErr, errors.ErrBackendUnavailable)
		case resp.StatusCode == http.StatusNotFound:
			return errors.Mark(httpErr, errors.ErrNotFound)
		default:
			return errors.Mark(httpErr, errors.ErrInvalidRequest)
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decoding %s response", req.URL.Path)
	}
	return nil
}
