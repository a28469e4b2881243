package backend

import "time"

// Wire types shared by the backend service and its client.

type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

type SignInResponse struct {
	Success      bool           `json:"success"`
	User         User           `json:"user"`
	SessionToken string         `json:"sessionToken"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	Profile      map[string]any `json:"profile,omitempty"`
}

type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type SignUpResponse struct {
	Success bool `json:"success"`
	User    User `json:"user"`
}

type IsLoggedInResponse struct {
	Success   bool      `json:"success"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ResizeRequest struct {
	ImageURL string `json:"imageUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type ResizeResponse struct {
	Success    bool   `json:"success"`
	ResizedURL string `json:"resizedUrl"`
}

type UploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
