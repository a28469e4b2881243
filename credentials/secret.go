package credentials

// Secret wraps a bearer credential so that it never reaches logs or error strings.
// Value returns the raw credential and must only be used to build an Authorization header
// or to persist the record.
type Secret struct {
	value string
}

func NewSecret(value string) Secret {
	return Secret{value: value}
}

func (s Secret) Value() string {
	return s.value
}

func (s Secret) IsEmpty() bool {
	return s.value == ""
}

func (s Secret) String() string {
	return "[REDACTED]"
}

func (s Secret) GoString() string {
	return "credentials.Secret{[REDACTED]}"
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
