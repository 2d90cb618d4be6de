package service

import (
	"errors"
	"strconv"

	"github.com/zlnvch/pageboard/cache"
	"github.com/zlnvch/pageboard/mq"
	"github.com/zlnvch/pageboard/store"
	"github.com/zlnvch/pageboard/worker"
)

// A page holds at most this many actions, and history never returns more.
const MaxPageActions = 10000

var ErrPageQuotaExceeded = errors.New("page action quota exceeded")

type Service struct {
	Store         store.ActionStore
	Cache         cache.PageCache
	MQ            mq.MessageQueue
	ActionBatcher *worker.ActionBatcher
}

func NewService(
	store store.ActionStore,
	cache cache.PageCache,
	mq mq.MessageQueue,
	actionBatcher *worker.ActionBatcher,
) *Service {
	return &Service{
		Store:         store,
		Cache:         cache,
		MQ:            mq,
		ActionBatcher: actionBatcher,
	}
}

// PageChannel is the pub/sub channel carrying events of page.
func PageChannel(page int) string {
	return "page:" + strconv.Itoa(page)
}
