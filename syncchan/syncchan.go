// Package syncchan is the client side of the page sync protocol.
//
// A Session owns one websocket connection to the relay. Each Channel is a
// subscription to a single page carried over that connection: Open sends
// "joinPage:<n>", Close sends "leavePage:<n>". Only one channel is attached
// to a session at a time. A dropped connection is not redialled on its own;
// the next Open dials again.
package syncchan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// History snapshots can be large.
	maxMessageSize = 8 << 20

	sendBufferSize = 1024
)

var (
	ErrClosed         = errors.New("sync channel closed")
	ErrConnectionLost = errors.New("connection lost")
)

type Session struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	dialMu  sync.Mutex
	mu      sync.Mutex
	conn    *connection
	current *Channel
	closed  bool
}

func NewSession(url string, header http.Header) *Session {
	return &Session{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeWait,
		},
	}
}

// Channel returns a new, unopened page channel bound to this session.
func (s *Session) Channel() *Channel {
	return &Channel{session: s}
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.conn
	s.conn = nil
	s.current = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	c.shutdown()
	select {
	case <-c.done:
	case <-time.After(writeWait):
		c.ws.Close()
	}
	return nil
}

func (s *Session) connect(ctx context.Context) (*connection, error) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.conn != nil {
		c := s.conn
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	ws, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	c := &connection{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return nil, ErrClosed
	}
	s.conn = c
	s.mu.Unlock()

	log.Debug("Sync session connected", "url", s.url)

	go s.readPump(c)
	go c.writePump()
	return c, nil
}

// attach makes ch the session's channel and joins page in one step, so the
// relay always ends on the page of the last attached channel.
func (s *Session) attach(ch *Channel, c *connection, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c {
		return ErrConnectionLost
	}

	ch.mu.Lock()
	closed := ch.state == stateClosed
	ch.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if !c.enqueue(protocol.JoinPage(page)) {
		return ErrConnectionLost
	}
	s.current = ch
	return nil
}

// leave detaches ch and sends the leave frame. It does nothing once another
// channel has attached.
func (s *Session) leave(ch *Channel, page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != ch {
		return
	}
	s.current = nil
	if s.conn != nil {
		s.conn.enqueue(protocol.LeavePage(page))
	}
}

func (s *Session) readPump(c *connection) {
	var readErr error
	defer func() {
		c.shutdown()
		s.dropped(c, readErr)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Sync connection closed", "err", err)
			}
			readErr = err
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Debug("Dropping inbound frame", "err", err)
			continue
		}

		s.mu.Lock()
		ch := s.current
		s.mu.Unlock()
		if ch != nil {
			ch.deliver(msg)
		}
	}
}

func (s *Session) dropped(c *connection, err error) {
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	ch := s.current
	s.current = nil
	s.mu.Unlock()

	if err == nil {
		err = ErrConnectionLost
	}
	if ch != nil {
		ch.disconnected(err)
	}
}

type connection struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// enqueue never blocks; frames are dropped when the connection is gone or
// the buffer is full.
func (c *connection) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Warn("Sync send buffer full, dropping frame")
		return false
	}
}

func (c *connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("Sync send error", "err", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type channelState int

const (
	stateIdle channelState = iota
	stateOpening
	stateOpen
	stateClosed
)

// Channel is a one-shot page subscription. Once closed, or once its
// connection drops, it cannot be reopened.
type Channel struct {
	session *Session

	mu           sync.Mutex
	state        channelState
	page         int
	conn         *connection
	onMessage    func(protocol.Message)
	onDisconnect func(error)
}

func (ch *Channel) OnMessage(handler func(protocol.Message)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onMessage = handler
}

func (ch *Channel) OnDisconnect(handler func(error)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onDisconnect = handler
}

// Open connects the session if needed and joins page. Messages for the page
// may be delivered before Open returns.
func (ch *Channel) Open(ctx context.Context, page int) error {
	ch.mu.Lock()
	if ch.state != stateIdle {
		ch.mu.Unlock()
		return ErrClosed
	}
	ch.state = stateOpening
	ch.page = page
	ch.mu.Unlock()

	conn, err := ch.session.connect(ctx)
	if err == nil {
		err = ch.session.attach(ch, conn, page)
	}
	if err != nil {
		ch.mu.Lock()
		ch.state = stateClosed
		ch.mu.Unlock()
		return err
	}

	ch.mu.Lock()
	if ch.state == stateClosed {
		ch.mu.Unlock()
		// Closed while joining.
		ch.session.leave(ch, page)
		return ErrClosed
	}
	ch.state = stateOpen
	ch.conn = conn
	ch.mu.Unlock()
	return nil
}

// Send transmits action. It is dropped unless the channel is open.
func (ch *Channel) Send(action models.Action) {
	ch.mu.Lock()
	if ch.state != stateOpen {
		ch.mu.Unlock()
		return
	}
	conn := ch.conn
	ch.mu.Unlock()

	data, err := protocol.EncodeAction(action)
	if err != nil {
		log.Warn("Failed to encode action", "err", err)
		return
	}
	conn.enqueue(data)
}

// SendClear transmits the clear control frame. It is dropped unless the
// channel is open.
func (ch *Channel) SendClear() {
	ch.mu.Lock()
	if ch.state != stateOpen {
		ch.mu.Unlock()
		return
	}
	conn := ch.conn
	ch.mu.Unlock()

	conn.enqueue(protocol.Clear())
}

func (ch *Channel) Close() {
	ch.mu.Lock()
	prev := ch.state
	ch.state = stateClosed
	page := ch.page
	ch.mu.Unlock()

	if prev == stateOpen || prev == stateOpening {
		ch.session.leave(ch, page)
	}
}

func (ch *Channel) Page() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.page
}

func (ch *Channel) deliver(msg protocol.Message) {
	ch.mu.Lock()
	if ch.state == stateClosed {
		ch.mu.Unlock()
		return
	}
	handler := ch.onMessage
	ch.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

func (ch *Channel) disconnected(err error) {
	ch.mu.Lock()
	if ch.state == stateClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = stateClosed
	handler := ch.onDisconnect
	ch.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}
