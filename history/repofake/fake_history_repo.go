package repofake

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-image-resizer/history"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
)

var _ history.Store = (*FakeHistoryRepo)(nil)

type FakeHistoryRepo struct {
	items map[string][]history.Item
	limit int
	now   func() time.Time
	lock  sync.RWMutex
}

func NewFakeHistoryRepo(limit int, now func() time.Time) *FakeHistoryRepo {
	return &FakeHistoryRepo{
		items: make(map[string][]history.Item),
		limit: limit,
		now:   now,
	}
}

func (hr *FakeHistoryRepo) List(_ context.Context, userID string) ([]history.Item, error) {
	hr.lock.RLock()
	defer hr.lock.RUnlock()
	return append([]history.Item{}, hr.items[userID]...), nil
}

func (hr *FakeHistoryRepo) Add(_ context.Context, userID string, item history.Item) (history.Item, error) {
	item, err := history.Prepare(item, hr.now())
	if err != nil {
		return history.Item{}, err
	}

	hr.lock.Lock()
	defer hr.lock.Unlock()
	hr.items[userID] = history.Prepend(hr.items[userID], item, hr.limit)
	return item, nil
}

func (hr *FakeHistoryRepo) Delete(_ context.Context, userID, id string) error {
	hr.lock.Lock()
	defer hr.lock.Unlock()

	items := hr.items[userID]
	for i, it := range items {
		if it.ID == id {
			hr.items[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return errors.ErrNotFound
}

func (hr *FakeHistoryRepo) Clear(_ context.Context, userID string) error {
	hr.lock.Lock()
	defer hr.lock.Unlock()
	delete(hr.items, userID)
	return nil
}
