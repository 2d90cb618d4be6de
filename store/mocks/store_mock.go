package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetActionRecords(ctx context.Context, page int, limit int) ([]models.Action, error) {
	args := m.Called(ctx, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Action), args.Error(1)
}

func (m *MockStore) WriteActionBatch(ctx context.Context, actions []models.Action) ([]models.Action, error) {
	args := m.Called(ctx, actions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Action), args.Error(1)
}

func (m *MockStore) SetClearMark(ctx context.Context, page int, before string) error {
	args := m.Called(ctx, page, before)
	return args.Error(0)
}

func (m *MockStore) DeletePageActions(ctx context.Context, page int, before string) error {
	args := m.Called(ctx, page, before)
	return args.Error(0)
}

var _ store.ActionStore = (*MockStore)(nil)
