package users

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

type User struct {
	ID              string    `json:"id,omitempty"`
	Email           string    `json:"email,omitempty"`
	DisplayName     string    `json:"displayName,omitempty"`
	PhotoURL        string    `json:"photoURL,omitempty"`
	PasswordHash    string    `json:"-"`                         // never serialize
	ProviderSubject string    `json:"providerSubject,omitempty"` // "sub" of the identity provider account
	DateJoined      time.Time `json:"dateJoined,omitempty"`
	LastLogin       time.Time `json:"lastLogin,omitempty"`
}

// ValidationError is a user-facing reason a sign-up form was rejected. It matches
// ErrInvalidRequest.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == errors.ErrInvalidRequest }

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateSignUp checks the sign-up form: a syntactically valid email, a password of at
// least MinPasswordLength characters and a non-blank display name.
func ValidateSignUp(email, password, displayName string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return &ValidationError{Message: "a valid email is required"}
	}
	if len(password) < MinPasswordLength {
		return &ValidationError{Message: fmt.Sprintf("password must be at least %d characters long", MinPasswordLength)}
	}
	if strings.TrimSpace(displayName) == "" {
		return &ValidationError{Message: "displayName is required"}
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CheckPassword reports whether password matches the stored hash. Provider-only
// accounts have no hash and never match.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return CheckPasswordHash(password, u.PasswordHash)
}
