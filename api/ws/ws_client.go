package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 4

	// Pointer moves arrive at display rate, so allow a couple of seconds of
	// bursty drawing.
	messagesPerSecond = 120
	burstLimit        = 240

	sendBufferSize = 256

	noPage = -1
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("client send buffer full")
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(hub *Hub, conn *websocket.Conn, addr string, handler MessageHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:      uuid.Must(uuid.NewV4()).String(),
		addr:    addr,
		hub:     hub,
		conn:    conn,
		handler: handler,
		page:    noPage,
		send:    make(chan []byte, sendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id      string
	addr    string
	hub     *Hub
	conn    *websocket.Conn
	handler MessageHandler

	// page is the joined page, owned by the read goroutine.
	page int

	sendMu sync.Mutex
	closed bool
	send   chan []byte // Buffered channel of outbound messages.

	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
}

func (c *Client) Id() string {
	return c.id
}

// Enqueue queues message for the write pump. A client that cannot keep up is
// disconnected rather than allowed to stall the relay.
func (c *Client) Enqueue(message []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		c.closed = true
		close(c.send)
		return errSendBufferFull
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.CloseCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WS close error", "client", c.id, "err", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Warn("Closing connection: message rate limit exceeded", "client", c.id, "addr", c.addr)
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("WS send error", "client", c.id, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Relay shutting down"),
			)
			return
		}
	}
}
