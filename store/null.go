package store

import (
	"context"

	"github.com/zlnvch/pageboard/models"
)

// NullStore archives nothing. The page cache is then the only history.
type NullStore struct{}

func NewNullStore() ActionStore {
	return &NullStore{}
}

func (s *NullStore) GetActionRecords(ctx context.Context, page int, limit int) ([]models.Action, error) {
	return []models.Action{}, nil
}

func (s *NullStore) WriteActionBatch(ctx context.Context, actions []models.Action) ([]models.Action, error) {
	return nil, nil
}

func (s *NullStore) SetClearMark(ctx context.Context, page int, before string) error {
	return nil
}

func (s *NullStore) DeletePageActions(ctx context.Context, page int, before string) error {
	return nil
}

var _ ActionStore = (*NullStore)(nil)
