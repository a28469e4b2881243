package oidcprovider

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
)

// Grant is what the provider remembers about the signed-in account.
type Grant struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	IDExpiry     time.Time `json:"id_expiry,omitempty"`
	// Revocable maps each ID token handed out to the OAuth token that revokes its grant.
	Revocable map[string]string `json:"revocable,omitempty"`
}

func (g *Grant) empty() bool {
	return g.IDToken == "" && g.RefreshToken == "" && g.AccessToken == "" && len(g.Revocable) == 0
}

// forgetSession drops the current tokens but keeps the revocable grants.
func (g *Grant) forgetSession() {
	g.AccessToken = ""
	g.RefreshToken = ""
	g.TokenType = ""
	g.Expiry = time.Time{}
	g.IDToken = ""
	g.IDExpiry = time.Time{}
}

// TokenStore holds the provider grant. fn reports whether it changed the grant; a change is
// saved before Update returns.
type TokenStore interface {
	Update(ctx context.Context, fn func(g *Grant) (bool, error)) error
}

var (
	_ TokenStore = (*MemoryTokenStore)(nil)
	_ TokenStore = (*FileTokenStore)(nil)
)

// MemoryTokenStore keeps the grant for the life of the process.
type MemoryTokenStore struct {
	lock  sync.Mutex
	grant Grant
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) Update(_ context.Context, fn func(g *Grant) (bool, error)) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	g := m.grant
	g.Revocable = cloneGrants(m.grant.Revocable)
	changed, err := fn(&g)
	if err != nil {
		return err
	}
	if changed {
		m.grant = g
	}
	return nil
}

// FileTokenStore keeps the grant in a 0600 JSON file so every process sharing the data
// directory sees the same provider session. Updates are serialised with a lock file.
type FileTokenStore struct {
	path     string
	fileLock *flock.Flock
	lock     sync.Mutex
}

func NewFileTokenStore(dir string) (*FileTokenStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating token directory %s", dir), errors.ErrStorage)
	}
	path := filepath.Join(dir, "provider-token.json")
	return &FileTokenStore{
		path:     path,
		fileLock: flock.New(path + ".lock"),
	}, nil
}

// Update holds the file lock across fn, so a refresh in one process is never raced by
// another using the same rotating refresh token.
func (fs *FileTokenStore) Update(ctx context.Context, fn func(g *Grant) (bool, error)) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	locked, err := fs.fileLock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = context.DeadlineExceeded
		}
		return errors.Mark(errors.Wrapf(err, "locking %s", fs.path), errors.ErrStorage)
	}
	defer fs.fileLock.Unlock()

	var g Grant
	data, err := os.ReadFile(fs.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return errors.Mark(errors.Wrapf(err, "reading %s", fs.path), errors.ErrStorage)
	default:
		if err := json.Unmarshal(data, &g); err != nil {
			return errors.Mark(errors.Wrapf(err, "decoding %s", fs.path), errors.ErrStorage)
		}
	}

	changed, err := fn(&g)
	if err != nil || !changed {
		return err
	}

	if g.empty() {
		if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
			return errors.Mark(errors.Wrapf(err, "removing %s", fs.path), errors.ErrStorage)
		}
		return nil
	}
	return fs.write(&g)
}

func (fs *FileTokenStore) write(g *Grant) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "encoding provider grant"), errors.ErrStorage)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".provider-token-*.tmp")
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
	if err := os.Rename(tmpName, fs.path); err != nil {
		return errors.Mark(errors.Wrapf(err, "replacing %s", fs.path), errors.ErrStorage)
	}
	return nil
}

func cloneGrants(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
