// Package server is the resizer backend: session sign-in for the extension and the
// image resize/upload API.
package server

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/resizing"
	"github.com/jrsteele09/go-image-resizer/token"
	"github.com/jrsteele09/go-image-resizer/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Option func(*Server)

// WithHTTPClient sets the client used to download images named in resize requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) {
		s.fetcher = hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

type Server struct {
	env        string // Environment (e.g., "DEV", "PROD")
	mux        *http.ServeMux
	routes     []string
	config     config.Config
	users      users.UserRepo
	sessions   *token.Sessions
	verifier   IdentityVerifier
	limits     resizing.Limits
	resizedDir string
	fetcher    *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

func New(cfg config.Config, userRepo users.UserRepo, sessions *token.Sessions, verifier IdentityVerifier, opts ...Option) (*Server, error) {
	if userRepo == nil {
		return nil, errors.New("[Server New] user repo is required")
	}
	if sessions == nil {
		return nil, errors.New("[Server New] session tokens are required")
	}
	if verifier == nil {
		return nil, errors.New("[Server New] identity verifier is required")
	}

	s := &Server{
		env:        cfg.GetEnv(),
		mux:        http.NewServeMux(),
		config:     cfg,
		users:      userRepo,
		sessions:   sessions,
		verifier:   verifier,
		limits:     resizing.LimitsFrom(cfg),
		resizedDir: cfg.GetResizedDir(),
		fetcher:    &http.Client{Timeout: cfg.GetRequestTimeout()},
		logger:     log.Logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.resizedDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "[Server New] failed to create resized images folder")
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns in registration order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

func (s *Server) logError(method, path string, err error) {
	s.logger.Error().Err(err).Msgf("[%-19s] %s", colourMethod(method), path)
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

// publicURL joins the configured base URL and an absolute path.
func (s *Server) publicURL(path string) string {
	return strings.TrimRight(s.config.GetBaseURL(), "/") + path
}
