package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-image-resizer/credentials"
)

var _ credentials.Store = (*FakeStore)(nil)

// Snapshot is the store content after one Put or Clear. Record is nil after a Clear.
type Snapshot struct {
	Record *credentials.Record
}

type FakeStore struct {
	record  *credentials.Record
	history []Snapshot
	lock    sync.RWMutex

	// GetErr, PutErr and ClearErr are returned by the matching call when set.
	GetErr   error
	PutErr   error
	ClearErr error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (fs *FakeStore) Get(_ context.Context) (*credentials.Record, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.GetErr != nil {
		return nil, fs.GetErr
	}
	return fs.record.Clone(), nil
}

func (fs *FakeStore) Put(_ context.Context, record *credentials.Record) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.PutErr != nil {
		return fs.PutErr
	}
	fs.record = record.Clone()
	fs.history = append(fs.history, Snapshot{Record: record.Clone()})
	return nil
}

func (fs *FakeStore) Clear(_ context.Context) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.ClearErr != nil {
		return fs.ClearErr
	}
	fs.record = nil
	fs.history = append(fs.history, Snapshot{})
	return nil
}

// Seed sets the record without recording a snapshot.
func (fs *FakeStore) Seed(record *credentials.Record) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.record = record.Clone()
}

func (fs *FakeStore) History() []Snapshot {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	out := make([]Snapshot, len(fs.history))
	copy(out, fs.history)
	return out
}
