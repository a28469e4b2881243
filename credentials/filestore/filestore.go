// Package filestore persists the session record as a single JSON file shared by every
// process of the same user.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultFileName         = "session.json"
	DefaultDebounceInterval = 100 * time.Millisecond
	lockRetryDelay          = 25 * time.Millisecond
)

var _ credentials.Store = (*Store)(nil)

// storedRecord is the on-disk layout. It is the only place the session token is written
// in clear.
type storedRecord struct {
	UserID         string         `json:"userId"`
	Email          string         `json:"email"`
	DisplayName    string         `json:"displayName"`
	AvatarURL      string         `json:"avatarUrl,omitempty"`
	SessionToken   string         `json:"sessionToken"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	BackendProfile map[string]any `json:"backendProfile,omitempty"`
}

type Store struct {
	dir      string
	path     string
	fileLock *flock.Flock
	lock     sync.RWMutex
	logger   zerolog.Logger
	debounce time.Duration
}

type Option func(*Store)

func WithFileName(name string) Option {
	return func(s *Store) {
		s.path = filepath.Join(s.dir, name)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		s.debounce = d
	}
}

// New creates the store directory with owner-only permissions.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:      dir,
		path:     filepath.Join(dir, DefaultFileName),
		logger:   log.Logger,
		debounce: DefaultDebounceInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating credentials directory %s", dir), errors.ErrStorage)
	}
	s.fileLock = flock.New(s.path + ".lock")
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get(ctx context.Context) (*credentials.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	locked, err := s.fileLock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, s.lockError(err)
	}
	defer s.fileLock.Unlock()

	return s.read()
}

func (s *Store) lockError(err error) error {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return errors.Mark(errors.Wrapf(err, "locking %s", s.path), errors.ErrStorage)
}

func (s *Store) read() (*credentials.Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reading %s", s.path), errors.ErrStorage)
	}

	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decoding %s", s.path), errors.ErrStorage)
	}
	if stored.UserID == "" || stored.SessionToken == "" {
		return nil, errors.Mark(errors.Wrapf(errors.ErrInvalidRequest, "incomplete record in %s", s.path), errors.ErrStorage)
	}

	return &credentials.Record{
		UserID:         stored.UserID,
		Email:          stored.Email,
		DisplayName:    stored.DisplayName,
		AvatarURL:      stored.AvatarURL,
		SessionToken:   credentials.NewSecret(stored.SessionToken),
		ExpiresAt:      stored.ExpiresAt,
		BackendProfile: stored.BackendProfile,
	}, nil
}

func (s *Store) Put(ctx context.Context, record *credentials.Record) error {
	if record == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "nil record")
	}

	data, err := json.MarshalIndent(storedRecord{
		UserID:         record.UserID,
		Email:          record.Email,
		DisplayName:    record.DisplayName,
		AvatarURL:      record.AvatarURL,
		SessionToken:   record.SessionToken.Value(),
		ExpiresAt:      record.ExpiresAt,
		BackendProfile: record.BackendProfile,
	}, "", "  ")
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "encoding record"), errors.ErrStorage)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	locked, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return s.lockError(err)
	}
	defer s.fileLock.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "creating temp file"), errors.ErrStorage)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Mark(errors.Wrapf(err, "chmod %s", tmpName), errors.ErrStorage)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Mark(errors.Wrapf(err, "writing %s", tmpName), errors.ErrStorage)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Mark(errors.Wrapf(err, "syncing %s", tmpName), errors.ErrStorage)
	}
	if err := tmp.Close(); err != nil {
		return errors.Mark(errors.Wrapf(err, "closing %s", tmpName), errors.ErrStorage)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Mark(errors.Wrapf(err, "replacing %s", s.path), errors.ErrStorage)
	}

	s.logger.Debug().Object("record", record).Msg("credentials stored")
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	locked, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return s.lockError(err)
	}
	defer s.fileLock.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Mark(errors.Wrapf(err, "removing %s", s.path), errors.ErrStorage)
	}
	s.logger.Debug().Msg("credentials cleared")
	return nil
}

// Watch calls onChange after the session file is created, replaced or removed, possibly by
// another process. Bursts of events are collapsed into one call. Watch blocks until ctx is
// done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "creating watcher"), errors.ErrStorage)
	}
	defer watcher.Close()

	// The file itself is replaced on every write so the directory is watched instead.
	if err := watcher.Add(s.dir); err != nil {
		return errors.Mark(errors.Wrapf(err, "watching %s", s.dir), errors.ErrStorage)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				if ctx.Err() == nil {
					onChange()
				}
			})
			timerMu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Str("dir", s.dir).Msg("credentials watcher error")
		}
	}
}
