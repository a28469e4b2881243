package users

type UserRepo interface {
	// Create stores a new user, failing with ErrUserExists if the email is taken.
	Create(user *User) error
	Upsert(user *User) error
	GetByEmail(email string) (*User, error)
	GetByID(id string) (*User, error)
	GetBySubject(subject string) (*User, error)
	Count() int
}
