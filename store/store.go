package store

import (
	"context"
	"errors"

	"github.com/zlnvch/pageboard/models"
)

// ActionStore is the durable archive of page actions. Action ids are UUIDv7
// strings, so ordering by id is ordering by creation time.
type ActionStore interface {
	// GetActionRecords returns the newest limit actions of page that are newer
	// than its clear mark, oldest first.
	GetActionRecords(ctx context.Context, page int, limit int) ([]models.Action, error)
	// WriteActionBatch returns the actions that could not be written.
	WriteActionBatch(ctx context.Context, actions []models.Action) ([]models.Action, error)
	// SetClearMark hides every action of page with an id below before. The
	// mark only moves forward.
	SetClearMark(ctx context.Context, page int, before string) error
	// DeletePageActions removes actions of page with an id below before.
	DeletePageActions(ctx context.Context, page int, before string) error
}

var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
