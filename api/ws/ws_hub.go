package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/zlnvch/pageboard/cache"
	"github.com/zlnvch/pageboard/service"
)

type joinRequest struct {
	client *Client
	page   int
	done   chan error
}

type leaveRequest struct {
	client *Client
	page   int
}

type readyRequest struct {
	client  *Client
	page    int
	history []byte
}

type pageEvent struct {
	page    int
	message []byte
}

// Hub tracks which page every client is on and relays page events from the
// cache pub/sub to the clients of that page.
type Hub struct {
	pageCache              cache.PageCache
	OpenCh                 chan *Client
	CloseCh                chan *Client
	JoinCh                 chan joinRequest
	LeaveCh                chan leaveRequest
	ReadyCh                chan readyRequest
	eventCh                chan pageEvent
	addrToClients          map[string]map[*Client]struct{}
	clientPage             map[*Client]int
	pending                map[*Client][][]byte
	pageToClients          map[int]map[*Client]struct{}
	pageToSubscriberCancel map[int]context.CancelFunc
}

func NewHub(pageCache cache.PageCache) *Hub {
	return &Hub{
		pageCache:              pageCache,
		OpenCh:                 make(chan *Client, 256),
		CloseCh:                make(chan *Client, 256),
		JoinCh:                 make(chan joinRequest, 1024),
		LeaveCh:                make(chan leaveRequest, 1024),
		ReadyCh:                make(chan readyRequest, 1024),
		eventCh:                make(chan pageEvent, 1024),
		addrToClients:          make(map[string]map[*Client]struct{}),
		clientPage:             make(map[*Client]int),
		pending:                make(map[*Client][][]byte),
		pageToClients:          make(map[int]map[*Client]struct{}),
		pageToSubscriberCancel: make(map[int]context.CancelFunc),
	}
}

const maxConnectionsPerAddr = 8

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for page, cancel := range h.pageToSubscriberCancel {
			cancel()
			delete(h.pageToSubscriberCancel, page)
		}
	}()

	for {
		select {
		case client := <-h.OpenCh:
			if _, ok := h.addrToClients[client.addr]; !ok {
				h.addrToClients[client.addr] = make(map[*Client]struct{})
			}

			if len(h.addrToClients[client.addr]) >= maxConnectionsPerAddr {
				log.Warn("Address reached max connections", "addr", client.addr, "max", maxConnectionsPerAddr)
				client.closeSend()
				continue
			}

			h.addrToClients[client.addr][client] = struct{}{}

		case client := <-h.CloseCh:
			h.removeFromPage(client)
			delete(h.addrToClients[client.addr], client)
			if len(h.addrToClients[client.addr]) == 0 {
				delete(h.addrToClients, client.addr)
			}
			client.closeSend()

		case req := <-h.JoinCh:
			req.done <- h.join(ctx, req.client, req.page)

		case req := <-h.LeaveCh:
			if page, ok := h.clientPage[req.client]; ok && page == req.page {
				h.removeFromPage(req.client)
			}

		case req := <-h.ReadyCh:
			if page, ok := h.clientPage[req.client]; ok && page == req.page {
				h.flush(req.client, req.history)
			}

		case ev := <-h.eventCh:
			h.relay(ev)

		case <-ctx.Done():
			return
		}
	}
}

// join moves client onto page, subscribing to the page channel when it is
// the first client there.
func (h *Hub) join(ctx context.Context, client *Client, page int) error {
	if current, ok := h.clientPage[client]; ok {
		if current == page {
			return nil
		}
		h.removeFromPage(client)
	}

	if h.pageToClients[page] == nil {
		log.Debug("Subscriber does not exist, creating", "page", page)

		subCtx, cancel := context.WithCancel(ctx)
		channel := service.PageChannel(page)

		err := h.pageCache.Subscribe(subCtx, channel, func(message []byte) {
			if subCtx.Err() != nil {
				return
			}
			select {
			case h.eventCh <- pageEvent{page: page, message: message}:
			case <-subCtx.Done():
			}
		})
		if err != nil {
			cancel()
			log.Error("Failed to subscribe to page channel", "channel", channel, "err", err)
			return err
		}

		h.pageToClients[page] = make(map[*Client]struct{})
		h.pageToSubscriberCancel[page] = cancel
	}

	h.pageToClients[page][client] = struct{}{}
	h.clientPage[client] = page
	h.pending[client] = [][]byte{}
	return nil
}

// flush sends the history of a freshly joined client, followed by the events
// held back while the history was loading.
func (h *Hub) flush(client *Client, history []byte) {
	held := h.pending[client]
	delete(h.pending, client)

	if err := client.Enqueue(history); err != nil {
		return
	}
	for _, message := range held {
		if err := client.Enqueue(message); err != nil {
			log.Warn("Client send buffer full, disconnecting", "client", client.id)
			return
		}
	}
}

func (h *Hub) removeFromPage(client *Client) {
	page, ok := h.clientPage[client]
	if !ok {
		return
	}
	delete(h.clientPage, client)
	delete(h.pending, client)
	delete(h.pageToClients[page], client)
	if len(h.pageToClients[page]) == 0 {
		if cancel, ok := h.pageToSubscriberCancel[page]; ok {
			cancel()
			delete(h.pageToSubscriberCancel, page)
		}
		delete(h.pageToClients, page)
	}
}

// relay forwards a page event to every client of the page except the one it
// came from.
func (h *Hub) relay(ev pageEvent) {
	var event service.PageEvent
	if err := json.Unmarshal(ev.message, &event); err != nil {
		log.Warn("Dropping malformed page event", "page", ev.page, "err", err)
		return
	}

	for client := range h.pageToClients[ev.page] {
		if client.id == event.Origin {
			continue
		}
		if held, ok := h.pending[client]; ok {
			if len(held) >= sendBufferSize {
				log.Warn("Too many events while history loads, disconnecting", "client", client.id)
				h.removeFromPage(client)
				client.closeSend()
				continue
			}
			h.pending[client] = append(held, event.Payload)
			continue
		}
		if err := client.Enqueue(event.Payload); errors.Is(err, errSendBufferFull) {
			log.Warn("Client send buffer full, disconnecting", "client", client.id)
		}
	}
}
