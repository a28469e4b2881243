package users

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
)

var _ UserRepo = (*InMemoryRepo)(nil)

// InMemoryRepo keeps users in process memory, indexed by id, email and provider subject.
type InMemoryRepo struct {
	mu         sync.RWMutex
	users      map[string]User
	emailIDs   map[string]string
	subjectIDs map[string]string
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		users:      make(map[string]User),
		emailIDs:   make(map[string]string),
		subjectIDs: make(map[string]string),
	}
}

func (r *InMemoryRepo) Create(user *User) error {
	if user == nil || user.Email == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "email is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emailIDs[NormalizeEmail(user.Email)]; ok {
		return errors.ErrUserExists
	}
	r.storeLocked(user)
	return nil
}

// Upsert stores user, assigning an ID when it has none.
func (r *InMemoryRepo) Upsert(user *User) error {
	if user == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "user is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[user.ID]; ok {
		delete(r.emailIDs, NormalizeEmail(prev.Email))
		delete(r.subjectIDs, prev.ProviderSubject)
	}
	r.storeLocked(user)
	return nil
}

func (r *InMemoryRepo) storeLocked(user *User) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	r.users[user.ID] = *user
	if user.Email != "" {
		r.emailIDs[NormalizeEmail(user.Email)] = user.ID
	}
	if user.ProviderSubject != "" {
		r.subjectIDs[user.ProviderSubject] = user.ID
	}
}

func (r *InMemoryRepo) GetByEmail(email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(r.emailIDs[NormalizeEmail(email)])
}

func (r *InMemoryRepo) GetByID(id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(id)
}

func (r *InMemoryRepo) GetBySubject(subject string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(r.subjectIDs[subject])
}

func (r *InMemoryRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *InMemoryRepo) lookupLocked(id string) (*User, error) {
	u, ok := r.users[id]
	if id == "" || !ok {
		return nil, errors.ErrUserNotFound
	}
	return &u, nil
}
