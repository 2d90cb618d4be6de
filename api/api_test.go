package api_test

import (
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pageboard/api"
	"github.com/zlnvch/pageboard/cache/memory"
	"github.com/zlnvch/pageboard/coordinator"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/mq/memq"
	"github.com/zlnvch/pageboard/pages"
	"github.com/zlnvch/pageboard/protocol"
	"github.com/zlnvch/pageboard/render/raster"
	"github.com/zlnvch/pageboard/store"
	"github.com/zlnvch/pageboard/syncchan"
)

func newTestServer(t *testing.T) (*httptest.Server, *api.PageboardAPI) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pageboardAPI := api.NewPageboardAPI(
		store.NewNullStore(),
		memq.New().WithPollWait(50*time.Millisecond),
		memory.NewMemoryPageCache(),
		nil,
		ctx,
	)
	srv := httptest.NewServer(pageboardAPI.Router())
	t.Cleanup(srv.Close)
	return srv, pageboardAPI
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func sendAction(t *testing.T, conn *websocket.Conn, action models.Action) {
	t.Helper()
	frame, err := protocol.EncodeAction(action)
	require.NoError(t, err)
	send(t, conn, frame)
}

func read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func join(t *testing.T, conn *websocket.Conn, page int) protocol.Message {
	t.Helper()
	send(t, conn, protocol.JoinPage(page))
	msg := read(t, conn)
	require.Equal(t, protocol.TypeHistory, msg.Type)
	require.Equal(t, page, msg.Page)
	return msg
}

func segment(page int, x float64) models.Action {
	return models.Action{
		Page:       page,
		Prev:       models.Point{X: x, Y: 10},
		Current:    models.Point{X: x + 5, Y: 12},
		Tool:       models.ToolPen,
		Color:      "#ff0000",
		StrokeSize: 3,
	}
}

func getHistory(t *testing.T, srv *httptest.Server, page string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/pages/" + page + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func historyLen(srv *httptest.Server, page string) int {
	resp, err := http.Get(srv.URL + "/pages/" + page + "/history")
	if err != nil {
		return -1
	}
	defer resp.Body.Close()
	var body struct {
		Actions []json.RawMessage `json:"actions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return -1
	}
	return len(body.Actions)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinSendsEmptyHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	msg := join(t, conn, 0)
	assert.Empty(t, msg.History)
	assert.Empty(t, msg.Cursor)
}

func TestDrawIsRelayedToOtherClientsOnly(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	join(t, a, 0)
	join(t, b, 0)

	sendAction(t, a, segment(0, 1))

	msg := read(t, b)
	require.Equal(t, protocol.TypeDraw, msg.Type)
	assert.Equal(t, 0, msg.Page)
	assert.Equal(t, models.Point{X: 1, Y: 10}, msg.Action.Prev)
	assert.NotEmpty(t, msg.Action.Id)

	assertSilent(t, a)
}

func TestLateJoinerReceivesHistoryWithCursor(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	join(t, a, 2)
	join(t, b, 2)

	sendAction(t, a, segment(2, 1))
	sendAction(t, a, segment(2, 2))
	read(t, b)
	last := read(t, b)

	c := dial(t, srv)
	msg := join(t, c, 2)
	require.Len(t, msg.History, 2)
	assert.Equal(t, last.Action.Id, msg.Cursor)

	first, err := protocol.DecodeHistoryEntry(msg.History[0])
	require.NoError(t, err)
	assert.Equal(t, models.Point{X: 1, Y: 10}, first.Prev)
}

func TestClearIsRelayedAndEmptiesHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	join(t, a, 0)
	join(t, b, 0)

	sendAction(t, a, segment(0, 1))
	read(t, b)

	send(t, b, protocol.Clear())
	msg := read(t, a)
	assert.Equal(t, protocol.TypeClear, msg.Type)
	assert.Equal(t, 0, msg.Page)

	c := dial(t, srv)
	history := join(t, c, 0)
	assert.Empty(t, history.History)
}

func TestPagesAreIsolated(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	join(t, a, 0)
	join(t, b, 1)

	// Not joined to page 1, so dropped.
	sendAction(t, a, segment(1, 1))
	sendAction(t, a, segment(0, 2))

	require.Eventually(t, func() bool { return historyLen(srv, "0") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, body := getHistory(t, srv, "1")
	assert.Empty(t, body["actions"])
	assertSilent(t, b)
}

func TestLeavePageStopsRelay(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	join(t, a, 3)
	join(t, b, 3)

	send(t, b, protocol.LeavePage(3))
	// The history reply means the hub has moved b off page 3.
	join(t, b, 4)

	sendAction(t, a, segment(3, 1))
	assertSilent(t, b)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, pageboardAPI := newTestServer(t)
	ctx := context.Background()

	stored, err := pageboardAPI.Service.AppendAction(ctx, "test", segment(5, 1))
	require.NoError(t, err)

	status, body := getHistory(t, srv, "5")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(5), body["page"])
	assert.Equal(t, stored.Id, body["cursor"])
	assert.Len(t, body["actions"], 1)

	status, _ = getHistory(t, srv, "99999")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = getHistory(t, srv, "abc")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, pageboardAPI := newTestServer(t)
	_, err := pageboardAPI.Service.AppendAction(context.Background(), "test", segment(0, 1))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/pages/0/snapshot.png?width=64&height=32")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())

	bad, err := http.Get(srv.URL + "/pages/0/snapshot.png?width=0")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestExportPDFEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/pages/0/export.pdf")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	head := make([]byte, 4)
	_, err = io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
}

type testClient struct {
	c       *coordinator.Coordinator
	history chan int
}

func newCoordinator(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()
	session := syncchan.NewSession(wsURL(srv), nil)
	t.Cleanup(func() { session.Close() })

	tc := &testClient{history: make(chan int, 16)}
	tc.c = coordinator.New(
		pages.NewStore(),
		raster.New(64, 64),
		func() coordinator.Channel { return session.Channel() },
		coordinator.Options{
			OnHistory: func(page, count int) { tc.history <- count },
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go tc.c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-tc.c.Done()
	})
	return tc
}

func (tc *testClient) waitHistory(t *testing.T) int {
	t.Helper()
	select {
	case n := <-tc.history:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history")
		return 0
	}
}

func TestCoordinatorsConverge(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := newCoordinator(t, srv)
	bob := newCoordinator(t, srv)
	alice.waitHistory(t)
	bob.waitHistory(t)

	require.NoError(t, alice.c.PointerDown(models.Point{X: 1, Y: 1}))
	require.NoError(t, alice.c.PointerMove(models.Point{X: 10, Y: 10}))
	require.NoError(t, alice.c.PointerMove(models.Point{X: 20, Y: 5}))
	require.NoError(t, alice.c.PointerUp())

	require.Eventually(t, func() bool { return len(bob.c.Actions(0)) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := bob.c.Actions(0)
	assert.Equal(t, models.Point{X: 1, Y: 1}, got[0].Prev)
	assert.Equal(t, models.Point{X: 20, Y: 5}, got[1].Current)
	assert.Len(t, alice.c.Actions(0), 2)

	carol := newCoordinator(t, srv)
	assert.Equal(t, 2, carol.waitHistory(t))

	require.NoError(t, bob.c.ClearBoard())
	require.Eventually(t, func() bool {
		return len(alice.c.Actions(0)) == 0 && len(carol.c.Actions(0)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinatorPagesStayApart(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := newCoordinator(t, srv)
	bob := newCoordinator(t, srv)
	alice.waitHistory(t)
	bob.waitHistory(t)

	page, err := alice.c.AddPage()
	require.NoError(t, err)
	require.Equal(t, 1, page)
	alice.waitHistory(t)

	require.NoError(t, alice.c.PointerDown(models.Point{X: 1, Y: 1}))
	require.NoError(t, alice.c.PointerMove(models.Point{X: 2, Y: 2}))
	require.NoError(t, alice.c.PointerUp())

	require.NoError(t, bob.c.EnsurePageCount(2))
	require.NoError(t, bob.c.GoToPage(1))
	bob.waitHistory(t)
	require.Eventually(t, func() bool { return len(bob.c.Actions(1)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, bob.c.Actions(0))
}
