package worker

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/store"
)

// DynamoDB BatchWriteItem accepts at most 25 requests.
const batchSize = 25

// DropRequest removes pending actions of Page with an id below Before, so a
// clear also cancels writes that were not flushed yet.
type DropRequest struct {
	Page   int
	Before string
}

type ActionBatcher struct {
	WriteCh            chan models.Action
	DropCh             chan DropRequest
	actionStore        store.ActionStore
	tickerMilliseconds int
}

func NewActionBatcher(actionStore store.ActionStore, tickerMilliseconds int) *ActionBatcher {
	return &ActionBatcher{
		WriteCh:            make(chan models.Action, 1024), // buffer to absorb bursts
		DropCh:             make(chan DropRequest, 64),
		actionStore:        actionStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (b *ActionBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]models.Action, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not derived from shutdownCtx: pending writes finish during shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.actionStore.WriteActionBatch(ctx, batch)
		if err != nil {
			log.Error("Failed to write action batch", "size", len(batch), "err", err)
		}
		if len(unprocessed) > 0 {
			log.Warn("Actions left unwritten", "count", len(unprocessed), "batch", len(batch))
		}

		batch = batch[:0]
	}

	for {
		select {
		case action := <-b.WriteCh:
			batch = append(batch, action)
			if len(batch) == batchSize {
				flush()
			}

		case drop := <-b.DropCh:
			kept := batch[:0]
			for _, a := range batch {
				if a.Page == drop.Page && a.Id < drop.Before {
					continue
				}
				kept = append(kept, a)
			}
			batch = kept

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			// Drain what was already queued.
		drain:
			for {
				select {
				case action := <-b.WriteCh:
					batch = append(batch, action)
					if len(batch) == batchSize {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}
