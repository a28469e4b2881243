package history_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jrsteele09/go-image-resizer/history"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T, limit int) *history.FileStore {
	t.Helper()
	s, err := history.NewFileStore(t.TempDir(),
		history.WithLimit(limit),
		history.WithNowTime(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	return s
}

func item(n int) history.Item {
	return history.Item{
		OriginalURL:    fmt.Sprintf("https://example.com/%d.png", n),
		ResizedURL:     fmt.Sprintf("http://localhost:3000/resized_images/%d.jpg", n),
		OriginalWidth:  1920,
		OriginalHeight: 1080,
		Width:          960,
		Height:         540,
	}
}

func TestAddAssignsIDAndTimestamp(t *testing.T) {
	s := newStore(t, 50)

	added, err := s.Add(context.Background(), "alice", item(1))
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)
	require.Equal(t, fixedNow, added.Timestamp)

	items, err := s.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, added.ID, items[0].ID)
}

func TestNewestFirstAndCapped(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := s.Add(ctx, "alice", item(i))
		require.NoError(t, err)
	}

	items, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, item(5).OriginalURL, items[0].OriginalURL)
	require.Equal(t, item(3).OriginalURL, items[2].OriginalURL)
}

func TestHistoryIsPerUser(t *testing.T) {
	s := newStore(t, 50)
	ctx := context.Background()

	_, err := s.Add(ctx, "alice", item(1))
	require.NoError(t, err)
	_, err = s.Add(ctx, "bob", item(2))
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "alice"))

	items, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, items)

	items, err = s.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestDelete(t *testing.T) {
	s := newStore(t, 50)
	ctx := context.Background()

	first, err := s.Add(ctx, "alice", item(1))
	require.NoError(t, err)
	second, err := s.Add(ctx, "alice", item(2))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "alice", first.ID))
	require.True(t, errors.Is(s.Delete(ctx, "alice", first.ID), errors.ErrNotFound))

	items, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, second.ID, items[0].ID)
}

func TestPrependDefaultLimit(t *testing.T) {
	var items []history.Item
	for i := 0; i < 60; i++ {
		items = history.Prepend(items, item(i), 0)
	}
	require.Len(t, items, history.DefaultLimit)
	require.Equal(t, item(59).OriginalURL, items[0].OriginalURL)
}
