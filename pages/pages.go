// Package pages keeps the client side action log of every page.
//
// A Store starts with a single empty page and only grows. It is not safe for
// concurrent use; the coordinator owns it and touches it from one goroutine.
package pages

import (
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/protocol"
)

var ErrPageOutOfRange = errors.New("page out of range")

type Store struct {
	pages [][]models.Action
}

func NewStore() *Store {
	return &Store{pages: make([][]models.Action, 1)}
}

func (s *Store) Len() int {
	return len(s.pages)
}

// AddPage appends an empty page and returns its index.
func (s *Store) AddPage() int {
	s.pages = append(s.pages, nil)
	return len(s.pages) - 1
}

func (s *Store) Append(page int, action models.Action) error {
	if !s.inRange(page) {
		return ErrPageOutOfRange
	}
	s.pages[page] = append(s.pages[page], action)
	return nil
}

// ReplaceHistory swaps the page log for the decoded entries. Entries that fail
// to decode, fail validation or belong to another page are skipped. It returns
// the number of entries kept.
func (s *Store) ReplaceHistory(page int, entries []json.RawMessage) (int, error) {
	if !s.inRange(page) {
		return 0, ErrPageOutOfRange
	}

	actions := make([]models.Action, 0, len(entries))
	for _, raw := range entries {
		action, err := protocol.DecodeHistoryEntry(raw)
		if err != nil {
			log.Debug("Dropping history entry", "page", page, "err", err)
			continue
		}
		if err := action.Validate(); err != nil {
			log.Debug("Dropping invalid history entry", "page", page, "err", err)
			continue
		}
		if action.Page != page {
			continue
		}
		actions = append(actions, action)
	}

	s.pages[page] = actions
	return len(actions), nil
}

func (s *Store) Clear(page int) error {
	if !s.inRange(page) {
		return ErrPageOutOfRange
	}
	s.pages[page] = nil
	return nil
}

// Actions returns a copy of the page log, or nil when the page does not exist.
func (s *Store) Actions(page int) []models.Action {
	if !s.inRange(page) {
		return nil
	}
	out := make([]models.Action, len(s.pages[page]))
	copy(out, s.pages[page])
	return out
}

func (s *Store) inRange(page int) bool {
	return page >= 0 && page < len(s.pages)
}
