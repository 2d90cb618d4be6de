package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zlnvch/pageboard/mq"
	"github.com/zlnvch/pageboard/store"
)

type MQConsumer struct {
	purgeQueue  mq.MessageQueue
	actionStore store.ActionStore
}

func NewMQConsumer(purgeQueue mq.MessageQueue, actionStore store.ActionStore) *MQConsumer {
	return &MQConsumer{
		purgeQueue:  purgeQueue,
		actionStore: actionStore,
	}
}

// Allow up to 5 minutes for the throttled deletion of a page.
const visibilityTimeout = 300

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.purgeQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error("Purge queue receive failed", "err", err)
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if msg == nil {
			if shutdownCtx.Err() != nil {
				return
			}
			continue
		}

		mqConsumer.handle(msg)
	}
}

func (mqConsumer *MQConsumer) handle(msg *mq.Message) {
	var purge mq.PurgePageMessage
	if err := json.Unmarshal([]byte(msg.Body), &purge); err != nil || purge.Type != mq.TypePurgePage {
		log.Warn("Discarding unknown queue message", "body", msg.Body)
		if err := mqConsumer.purgeQueue.Delete(context.Background(), msg); err != nil {
			log.Error("Purge queue delete failed", "err", err)
		}
		return
	}

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	if err := mqConsumer.actionStore.DeletePageActions(ctx, purge.Page, purge.Before); err != nil {
		// Left on the queue; it becomes visible again after the timeout.
		log.Error("Failed to purge page actions", "page", purge.Page, "err", err)
		return
	}
	log.Debug("Purged page actions", "page", purge.Page, "before", purge.Before)

	if err := mqConsumer.purgeQueue.Delete(context.Background(), msg); err != nil {
		log.Error("Purge queue delete failed", "err", err)
	}
}
