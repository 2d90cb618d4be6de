package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/pageboard/protocol"
	"github.com/zlnvch/pageboard/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

// NewWsUpgrader accepts any origin when allowedOrigins is empty.
func (h *Handler) NewWsUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Failed to upgrade ws connection", "err", err)
		return
	}

	addr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		addr = r.RemoteAddr
	}

	client := NewClient(h.Hub, conn, addr, h.HandleWsMessage)
	h.Hub.OpenCh <- client
	log.Debug("Client connected", "client", client.id, "addr", addr)

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	if messageType != websocket.TextMessage {
		log.Debug("Ignoring non-text frame", "client", client.id, "type", messageType)
		return
	}

	frame, err := protocol.ParseFrame(messageBytes)
	if err != nil {
		log.Debug("Invalid frame", "client", client.id, "err", err)
		return
	}

	switch frame.Kind {
	case protocol.FrameJoin:
		h.handleJoin(client, frame.Page)

	case protocol.FrameLeave:
		if client.page != frame.Page {
			return
		}
		client.page = noPage
		select {
		case h.Hub.LeaveCh <- leaveRequest{client: client, page: frame.Page}:
		case <-client.ctx.Done():
		}

	case protocol.FrameClear:
		if client.page == noPage {
			log.Debug("Clear before join", "client", client.id)
			return
		}
		if err := h.Service.ClearPage(client.ctx, client.id, client.page); err != nil {
			log.Error("ClearPage failed", "page", client.page, "err", err)
		}

	case protocol.FrameAction:
		if frame.Page != client.page {
			log.Debug("Action for a page the client has not joined", "client", client.id, "page", frame.Page, "joined", client.page)
			return
		}
		if _, err := h.Service.AppendAction(client.ctx, client.id, frame.Action); err != nil {
			if errors.Is(err, service.ErrPageQuotaExceeded) {
				log.Debug("AppendAction rejected", "page", frame.Page, "err", err)
				return
			}
			log.Warn("AppendAction failed", "page", frame.Page, "err", err)
		}
	}
}

// handleJoin subscribes client to page before reading its history. Events
// relayed in between are held by the hub until the history has been sent, so
// every action is either in the history or delivered after it.
func (h *Handler) handleJoin(client *Client, page int) {
	done := make(chan error, 1)
	select {
	case h.Hub.JoinCh <- joinRequest{client: client, page: page, done: done}:
	case <-client.ctx.Done():
		return
	}

	select {
	case err := <-done:
		if err != nil {
			client.page = noPage
			return
		}
	case <-client.ctx.Done():
		return
	}
	client.page = page

	actions, cursor, err := h.Service.LoadHistory(client.ctx, page)
	if err != nil {
		// No history means no consistent view of the page.
		log.Error("LoadHistory failed", "page", page, "err", err)
		client.closeSend()
		return
	}

	payload, err := protocol.EncodeHistory(page, actions, cursor)
	if err != nil {
		log.Error("Failed to encode history", "page", page, "err", err)
		client.closeSend()
		return
	}

	select {
	case h.Hub.ReadyCh <- readyRequest{client: client, page: page, history: payload}:
	case <-client.ctx.Done():
	}
}
