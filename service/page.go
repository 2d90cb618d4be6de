package service

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/zlnvch/pageboard/cache"
	"github.com/zlnvch/pageboard/models"
)

// LoadHistory returns the current log of page, oldest first, and the id of
// its last action. The cache answers alone once it holds the complete page;
// otherwise the archive is merged in and written back to the cache.
func (s *Service) LoadHistory(ctx context.Context, page int) ([]models.Action, string, error) {
	if !models.ValidPage(page) {
		return nil, "", models.ErrInvalidPage
	}

	cachedRaw, err := s.Cache.GetActions(ctx, page, MaxPageActions)
	cached := make([]models.Action, 0, len(cachedRaw))
	if err == nil {
		for _, b := range cachedRaw {
			var action models.Action
			if err := json.Unmarshal(b, &action); err == nil {
				cached = append(cached, action)
			}
		}
	} else {
		log.Warn("Failed to read page from cache", "page", page, "err", err)
	}

	isComplete, _ := s.Cache.IsPageComplete(ctx, page)
	if isComplete && err == nil {
		return cached, cursorOf(cached), nil
	}

	archived, err := s.Store.GetActionRecords(ctx, page, MaxPageActions)
	if err != nil {
		return nil, "", err
	}

	actions := mergeActions(archived, cached)
	if len(actions) > MaxPageActions {
		actions = actions[len(actions)-MaxPageActions:]
	}

	batchItems := make([]cache.ActionCacheItem, 0, len(archived))
	for _, action := range archived {
		data, err := json.Marshal(action)
		if err != nil {
			continue
		}
		t, _ := getTimeFromUUIDv7(action.Id)
		batchItems = append(batchItems, cache.ActionCacheItem{
			ActionId: action.Id,
			Score:    t.UnixMilli(),
			Data:     data,
		})
	}

	if err := s.Cache.AddActionsBatch(ctx, page, batchItems); err != nil {
		log.Warn("Failed to backfill page cache", "page", page, "err", err)
	} else if err := s.Cache.SetPageComplete(ctx, page); err != nil {
		log.Warn("Failed to mark page complete", "page", page, "err", err)
	}

	return actions, cursorOf(actions), nil
}

func cursorOf(actions []models.Action) string {
	if len(actions) == 0 {
		return ""
	}
	return actions[len(actions)-1].Id
}

// mergeActions merges two id-ordered logs, preferring the cached copy of an
// action present in both.
func mergeActions(archived []models.Action, cached []models.Action) []models.Action {
	merged := make([]models.Action, 0, len(archived)+len(cached))
	i, j := 0, 0
	for i < len(archived) && j < len(cached) {
		archivedId := archived[i].Id
		cachedId := cached[j].Id

		if archivedId == cachedId {
			merged = append(merged, cached[j])
			i++
			j++
		} else if archivedId < cachedId {
			merged = append(merged, archived[i])
			i++
		} else {
			merged = append(merged, cached[j])
			j++
		}
	}
	merged = append(merged, archived[i:]...)
	merged = append(merged, cached[j:]...)
	return merged
}
