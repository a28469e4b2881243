package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	// AUTH
	s.RegisterRouteHandler("POST "+RouteSignUp, ChainMiddleware(s.SignUpHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSignIn, ChainMiddleware(s.SignInHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteIsLoggedIn, ChainMiddleware(s.IsLoggedInHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware(s.RequireAuth())...))

	// IMAGES
	s.RegisterRouteHandler("POST "+RouteResize, ChainMiddleware(s.ResizeHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+RouteUpload, ChainMiddleware(s.UploadHandler(), s.APIMiddleware(s.RequireAuth())...))

	s.RegisterRouteHandler("OPTIONS "+RouteAPIPreflight, ChainMiddleware(s.preflightHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteResized, ChainMiddleware(s.ResizedFileHandler(), s.FileMiddleware()...))
}

// preflightHandler answers OPTIONS requests that carry no Origin header.
func (s *Server) preflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
