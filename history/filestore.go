package history

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

var _ Store = (*FileStore)(nil)

type NowTimeFunc func() time.Time

type FileOption func(*FileStore)

func WithNowTime(now NowTimeFunc) FileOption {
	return func(fs *FileStore) {
		fs.now = now
	}
}

func WithLimit(limit int) FileOption {
	return func(fs *FileStore) {
		if limit > 0 {
			fs.limit = limit
		}
	}
}

// FileStore keeps every user's history in one JSON document keyed by user ID.
type FileStore struct {
	path     string
	fileLock *flock.Flock
	lock     sync.Mutex
	limit    int
	now      NowTimeFunc
}

func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating history directory %s", dir), errors.ErrStorage)
	}
	path := filepath.Join(dir, "history.json")
	fs := &FileStore{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		limit:    DefaultLimit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs, nil
}

func (fs *FileStore) List(ctx context.Context, userID string) ([]Item, error) {
	var out []Item
	err := fs.update(ctx, false, func(doc map[string][]Item) error {
		out = append([]Item{}, doc[userID]...)
		return nil
	})
	return out, err
}

func (fs *FileStore) Add(ctx context.Context, userID string, item Item) (Item, error) {
	item, err := Prepare(item, fs.now())
	if err != nil {
		return Item{}, errors.Wrapf(err, "generating history id")
	}
	err = fs.update(ctx, true, func(doc map[string][]Item) error {
		doc[userID] = Prepend(doc[userID], item, fs.limit)
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (fs *FileStore) Delete(ctx context.Context, userID, id string) error {
	return fs.update(ctx, true, func(doc map[string][]Item) error {
		items := doc[userID]
		for i, it := range items {
			if it.ID == id {
				doc[userID] = append(items[:i:i], items[i+1:]...)
				return nil
			}
		}
		return errors.Wrapf(errors.ErrNotFound, "history item %s", id)
	})
}

func (fs *FileStore) Clear(ctx context.Context, userID string) error {
	return fs.update(ctx, true, func(doc map[string][]Item) error {
		delete(doc, userID)
		return nil
	})
}

func (fs *FileStore) update(ctx context.Context, write bool, fn func(map[string][]Item) error) error {
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

	doc := map[string][]Item{}
	data, err := os.ReadFile(fs.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return errors.Mark(errors.Wrapf(err, "reading %s", fs.path), errors.ErrStorage)
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return errors.Mark(errors.Wrapf(err, "decoding %s", fs.path), errors.ErrStorage)
		}
	}

	if err := fn(doc); err != nil {
		return err
	}
	if !write {
		return nil
	}

	data, err = json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "encoding history"), errors.ErrStorage)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Mark(errors.Wrapf(err, "writing %s", tmp), errors.ErrStorage)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return errors.Mark(errors.Wrapf(err, "replacing %s", fs.path), errors.ErrStorage)
	}
	return nil
}
