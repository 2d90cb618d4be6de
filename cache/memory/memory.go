// Package memory is an in-process PageCache for single instance servers and
// tests. Publish delivers synchronously, in call order, to every live
// subscriber of the channel.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zlnvch/pageboard/cache"
)

type entry struct {
	id    string
	score int64
	data  []byte
}

type pageLog struct {
	entries  []entry
	ids      map[string]struct{}
	complete bool
}

type subscriber struct {
	handler func(message []byte)
}

type MemoryPageCache struct {
	mu    sync.RWMutex
	pages map[int]*pageLog

	subMu       sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
}

func NewMemoryPageCache() *MemoryPageCache {
	return &MemoryPageCache{
		pages:       make(map[int]*pageLog),
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

func (m *MemoryPageCache) Publish(ctx context.Context, channel string, message []byte) error {
	m.subMu.RLock()
	handlers := make([]func([]byte), 0, len(m.subscribers[channel]))
	for sub := range m.subscribers[channel] {
		handlers = append(handlers, sub.handler)
	}
	m.subMu.RUnlock()

	for _, handler := range handlers {
		handler(message)
	}
	return nil
}

// Subscribe registers handler until ctx is done.
func (m *MemoryPageCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sub := &subscriber{handler: handler}
	m.subMu.Lock()
	if m.subscribers[channel] == nil {
		m.subscribers[channel] = make(map[*subscriber]struct{})
	}
	m.subscribers[channel][sub] = struct{}{}
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.subscribers[channel], sub)
		if len(m.subscribers[channel]) == 0 {
			delete(m.subscribers, channel)
		}
		m.subMu.Unlock()
	}()
	return nil
}

func (m *MemoryPageCache) page(page int) *pageLog {
	p, ok := m.pages[page]
	if !ok {
		p = &pageLog{ids: make(map[string]struct{})}
		m.pages[page] = p
	}
	return p
}

func (p *pageLog) insert(e entry) {
	if _, ok := p.ids[e.id]; ok {
		for i := range p.entries {
			if p.entries[i].id == e.id {
				p.entries = append(p.entries[:i], p.entries[i+1:]...)
				break
			}
		}
	}
	p.ids[e.id] = struct{}{}

	i := sort.Search(len(p.entries), func(i int) bool {
		cur := p.entries[i]
		if cur.score != e.score {
			return cur.score > e.score
		}
		return cur.id > e.id
	})
	p.entries = append(p.entries, entry{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = e
}

func (m *MemoryPageCache) AddAction(ctx context.Context, page int, actionId string, score int64, actionData []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page(page).insert(entry{id: actionId, score: score, data: actionData})
	return nil
}

func (m *MemoryPageCache) AddActionsBatch(ctx context.Context, page int, actions []cache.ActionCacheItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.page(page)
	for _, a := range actions {
		p.insert(entry{id: a.ActionId, score: a.Score, data: a.Data})
	}
	return nil
}

// GetActions returns the newest limit payloads of page, oldest first.
func (m *MemoryPageCache) GetActions(ctx context.Context, page int, limit int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pages[page]
	if !ok || limit <= 0 {
		return [][]byte{}, nil
	}
	entries := p.entries
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.data
	}
	return out, nil
}

func (m *MemoryPageCache) GetPageActionCount(ctx context.Context, page int) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.pages[page]; ok {
		return int64(len(p.entries)), nil
	}
	return 0, nil
}

func (m *MemoryPageCache) ClearPage(ctx context.Context, page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, page)
	return nil
}

func (m *MemoryPageCache) SetPageComplete(ctx context.Context, page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page(page).complete = true
	return nil
}

func (m *MemoryPageCache) IsPageComplete(ctx context.Context, page int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[page]
	return ok && p.complete, nil
}

var _ cache.PageCache = (*MemoryPageCache)(nil)
