// Package history keeps the per-user list of resize operations, newest first.
package history

import (
	"context"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLimit = 50

type Item struct {
	ID             string    `json:"id"`
	OriginalURL    string    `json:"originalUrl"`
	ResizedURL     string    `json:"resizedUrl"`
	OriginalWidth  int       `json:"originalWidth"`
	OriginalHeight int       `json:"originalHeight"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Timestamp      time.Time `json:"timestamp"`
}

type Store interface {
	List(ctx context.Context, userID string) ([]Item, error)
	// Add stores item at the front of the user's list, assigning an ID and timestamp when
	// missing, and drops the oldest entries beyond the limit.
	Add(ctx context.Context, userID string, item Item) (Item, error)
	// Delete removes one item. A missing item is ErrNotFound.
	Delete(ctx context.Context, userID, id string) error
	Clear(ctx context.Context, userID string) error
}

// Prepend returns items with item in front, capped at limit entries.
func Prepend(items []Item, item Item, limit int) []Item {
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]Item, 0, min(len(items)+1, limit))
	out = append(out, item)
	for _, it := range items {
		if len(out) == limit {
			break
		}
		out = append(out, it)
	}
	return out
}

// Prepare fills in the generated fields of a new item.
func Prepare(item Item, now time.Time) (Item, error) {
	if item.ID == "" {
		id, err := nanoid.New()
		if err != nil {
			return Item{}, err
		}
		item.ID = id
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = now
	}
	return item, nil
}
