package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/mq"
	"github.com/zlnvch/pageboard/protocol"
	"github.com/zlnvch/pageboard/worker"
)

// PageEvent is what travels over a page channel. Origin is the id of the
// connection that caused it so the relay can skip the sender; Payload is the
// frame sent to every other client.
type PageEvent struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Service) enforcePageQuota(ctx context.Context, page int) error {
	// Count from the cache, loading the page into it first if needed.
	isComplete, _ := s.Cache.IsPageComplete(ctx, page)
	if !isComplete {
		if _, _, err := s.LoadHistory(ctx, page); err != nil {
			log.Warn("Failed to load page for quota check", "page", page, "err", err)
		}
	}

	count, err := s.Cache.GetPageActionCount(ctx, page)
	if err != nil {
		count = 0
	}
	if count >= MaxPageActions {
		log.Warn("Page exceeded action quota", "page", page, "count", count)
		return ErrPageQuotaExceeded
	}
	return nil
}

// AppendAction stamps action with a fresh id, records it and relays it to the
// other clients of its page. The cache write happens before the publish, so a
// client that joins in between finds the action in history.
func (s *Service) AppendAction(ctx context.Context, origin string, action models.Action) (models.Action, error) {
	if err := action.Validate(); err != nil {
		return models.Action{}, err
	}

	if err := s.enforcePageQuota(ctx, action.Page); err != nil {
		return models.Action{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.Action{}, err
	}
	action.Id = id.String()

	data, err := json.Marshal(action)
	if err != nil {
		return models.Action{}, err
	}

	t, _ := getTimeFromUUIDv7(action.Id)
	if err := s.Cache.AddAction(ctx, action.Page, action.Id, t.UnixMilli(), data); err != nil {
		return models.Action{}, fmt.Errorf("cache action: %w", err)
	}

	select {
	case s.ActionBatcher.WriteCh <- action:
	case <-ctx.Done():
		return models.Action{}, ctx.Err()
	}

	if err := s.publish(ctx, action.Page, origin, data); err != nil {
		log.Warn("Failed to publish action", "page", action.Page, "err", err)
	}

	return action, nil
}

// ClearPage empties page for everyone. Actions archived before the clear are
// hidden at once and purged from the archive in the background.
func (s *Service) ClearPage(ctx context.Context, origin string, page int) error {
	if !models.ValidPage(page) {
		return models.ErrInvalidPage
	}

	cutoff, err := uuid.NewV7()
	if err != nil {
		return err
	}
	before := cutoff.String()

	if err := s.Cache.ClearPage(ctx, page); err != nil {
		return fmt.Errorf("clear cached page: %w", err)
	}
	if err := s.Store.SetClearMark(ctx, page, before); err != nil {
		return fmt.Errorf("set clear mark: %w", err)
	}
	// Empty is now the complete state of the page.
	if err := s.Cache.SetPageComplete(ctx, page); err != nil {
		log.Warn("Failed to mark cleared page complete", "page", page, "err", err)
	}

	select {
	case s.ActionBatcher.DropCh <- worker.DropRequest{Page: page, Before: before}:
	case <-ctx.Done():
		return ctx.Err()
	}

	body, err := mq.NewPurgePageMessage(page, before)
	if err == nil {
		err = s.MQ.Send(ctx, body)
	}
	if err != nil {
		// The clear mark already hides the actions; only disk space is lost.
		log.Warn("Failed to queue page purge", "page", page, "err", err)
	}

	payload, err := protocol.EncodeClear(page)
	if err != nil {
		return err
	}
	if err := s.publish(ctx, page, origin, payload); err != nil {
		log.Warn("Failed to publish clear", "page", page, "err", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, page int, origin string, payload []byte) error {
	msg, err := json.Marshal(PageEvent{Origin: origin, Payload: payload})
	if err != nil {
		return err
	}
	return s.Cache.Publish(ctx, PageChannel(page), msg)
}

func getTimeFromUUIDv7(actionId string) (time.Time, error) {
	id, err := uuid.FromString(actionId)
	if err != nil {
		return time.Time{}, err
	}
	if id.Version() != uuid.V7 {
		return time.Time{}, fmt.Errorf("not a UUIDv7: %s", actionId)
	}
	ts, err := uuid.TimestampFromV7(id)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Time()
}
