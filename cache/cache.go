package cache

import "context"

type ActionCacheItem struct {
	ActionId string
	Score    int64
	Data     []byte
}

// PageCache holds the recent action log of every page and carries the
// pub/sub fan-out between relay instances.
type PageCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	AddAction(ctx context.Context, page int, actionId string, score int64, actionData []byte) error
	AddActionsBatch(ctx context.Context, page int, actions []ActionCacheItem) error
	GetActions(ctx context.Context, page int, limit int) ([][]byte, error)
	GetPageActionCount(ctx context.Context, page int) (int64, error)
	ClearPage(ctx context.Context, page int) error

	SetPageComplete(ctx context.Context, page int) error
	IsPageComplete(ctx context.Context, page int) (bool, error)
}
