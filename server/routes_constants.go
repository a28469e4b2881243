package server

import "github.com/jrsteele09/go-image-resizer/backend"

// Route path constants
// Paths are shared with the backend client so both sides agree on the wire
const (
	// Auth Routes
	RouteSignUp     = backend.SignUpPath
	RouteSignIn     = backend.SignInPath
	RouteIsLoggedIn = backend.IsLoggedInPath
	RouteSignOut    = backend.SignOutPath

	// Image Routes
	RouteResize  = backend.ResizePath
	RouteUpload  = backend.UploadPath
	RouteResized = backend.ResizedPrefix + "{file}"

	// Preflight for every API route
	RouteAPIPreflight = "/api/"
)
