package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/pageboard/cache"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) AddAction(ctx context.Context, page int, actionId string, score int64, actionData []byte) error {
	args := m.Called(ctx, page, actionId, score, actionData)
	return args.Error(0)
}

func (m *MockCache) AddActionsBatch(ctx context.Context, page int, actions []cache.ActionCacheItem) error {
	args := m.Called(ctx, page, actions)
	return args.Error(0)
}

func (m *MockCache) GetActions(ctx context.Context, page int, limit int) ([][]byte, error) {
	args := m.Called(ctx, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) GetPageActionCount(ctx context.Context, page int) (int64, error) {
	args := m.Called(ctx, page)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) ClearPage(ctx context.Context, page int) error {
	args := m.Called(ctx, page)
	return args.Error(0)
}

func (m *MockCache) SetPageComplete(ctx context.Context, page int) error {
	args := m.Called(ctx, page)
	return args.Error(0)
}

func (m *MockCache) IsPageComplete(ctx context.Context, page int) (bool, error) {
	args := m.Called(ctx, page)
	return args.Bool(0), args.Error(1)
}

var _ cache.PageCache = (*MockCache)(nil)
