package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pageboard/cache/memory"
	"github.com/zlnvch/pageboard/service"
)

func TestUpgraderCheckOrigin(t *testing.T) {
	h := &Handler{}

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://board.example")

	open := h.NewWsUpgrader(nil)
	assert.True(t, open.CheckOrigin(req))

	strict := h.NewWsUpgrader([]string{"https://other.example", "https://board.example"})
	assert.True(t, strict.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, strict.CheckOrigin(req))
}

func TestEnqueueDisconnectsSlowClient(t *testing.T) {
	c := NewClient(nil, nil, "127.0.0.1", nil)

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, c.Enqueue([]byte("x")))
	}
	assert.ErrorIs(t, c.Enqueue([]byte("x")), errSendBufferFull)
	assert.ErrorIs(t, c.Enqueue([]byte("x")), errClientClosed)

	// closeSend after a kick must not panic.
	c.closeSend()
}

func runHub(t *testing.T) (*Hub, *memory.MemoryPageCache) {
	pageCache := memory.NewMemoryPageCache()
	hub := NewHub(pageCache)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, pageCache
}

func joinHub(t *testing.T, hub *Hub, c *Client, page int) {
	t.Helper()
	done := make(chan error, 1)
	hub.JoinCh <- joinRequest{client: c, page: page, done: done}
	require.NoError(t, <-done)
}

func publish(t *testing.T, pageCache *memory.MemoryPageCache, page int, origin string, payload string) {
	t.Helper()
	msg, err := json.Marshal(service.PageEvent{Origin: origin, Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	require.NoError(t, pageCache.Publish(context.Background(), service.PageChannel(page), msg))
}

func next(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubHoldsEventsUntilHistory(t *testing.T) {
	hub, pageCache := runHub(t)
	c := NewClient(hub, nil, "127.0.0.1", nil)

	joinHub(t, hub, c, 0)
	publish(t, pageCache, 0, "someone", `{"n":1}`)
	assertNothing(t, c)

	hub.ReadyCh <- readyRequest{client: c, page: 0, history: []byte(`{"type":"history"}`)}
	assert.Equal(t, `{"type":"history"}`, next(t, c))
	assert.Equal(t, `{"n":1}`, next(t, c))

	publish(t, pageCache, 0, "someone", `{"n":2}`)
	assert.Equal(t, `{"n":2}`, next(t, c))
}

func TestHubRelaySkipsOrigin(t *testing.T) {
	hub, pageCache := runHub(t)
	a := NewClient(hub, nil, "10.0.0.1", nil)
	b := NewClient(hub, nil, "10.0.0.2", nil)

	for _, c := range []*Client{a, b} {
		joinHub(t, hub, c, 3)
		hub.ReadyCh <- readyRequest{client: c, page: 3, history: []byte("h")}
		assert.Equal(t, "h", next(t, c))
	}

	publish(t, pageCache, 3, a.id, `{"from":"a"}`)
	assert.Equal(t, `{"from":"a"}`, next(t, b))
	assertNothing(t, a)

	// Events of other pages never reach page 3.
	publish(t, pageCache, 4, "someone", `{"page":4}`)
	assertNothing(t, a)
	assertNothing(t, b)
}

func TestHubLeaveAndSwitchPage(t *testing.T) {
	hub, pageCache := runHub(t)
	c := NewClient(hub, nil, "127.0.0.1", nil)

	joinHub(t, hub, c, 1)
	hub.ReadyCh <- readyRequest{client: c, page: 1, history: []byte("h1")}
	assert.Equal(t, "h1", next(t, c))

	joinHub(t, hub, c, 2)
	hub.ReadyCh <- readyRequest{client: c, page: 2, history: []byte("h2")}
	assert.Equal(t, "h2", next(t, c))

	publish(t, pageCache, 1, "someone", `{"page":1}`)
	assertNothing(t, c)

	hub.LeaveCh <- leaveRequest{client: c, page: 2}
	time.Sleep(50 * time.Millisecond)
	publish(t, pageCache, 2, "someone", `{"page":2}`)
	assertNothing(t, c)
}

func TestHubLimitsConnectionsPerAddress(t *testing.T) {
	hub, _ := runHub(t)

	clients := make([]*Client, maxConnectionsPerAddr+1)
	for i := range clients {
		clients[i] = NewClient(hub, nil, "192.168.0.7", nil)
		hub.OpenCh <- clients[i]
	}

	rejected := clients[maxConnectionsPerAddr]
	select {
	case _, ok := <-rejected.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("extra connection was not rejected")
	}

	// Another address is unaffected.
	other := NewClient(hub, nil, "192.168.0.8", nil)
	hub.OpenCh <- other
	joinHub(t, hub, other, 0)
	assert.NoError(t, other.Enqueue([]byte("ok")))
}
