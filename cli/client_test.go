package cli

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pageboard/api"
	"github.com/zlnvch/pageboard/cache/memory"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/mq/memq"
	"github.com/zlnvch/pageboard/store"
)

func TestParsePoint(t *testing.T) {
	p, err := parsePoint("10, 20.5")
	require.NoError(t, err)
	assert.Equal(t, models.Point{X: 10, Y: 20.5}, p)

	for _, bad := range []string{"", "10", "a,1", "1,b"} {
		_, err := parsePoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestInterpolate(t *testing.T) {
	points := interpolate(models.Point{X: 0, Y: 0}, models.Point{X: 10, Y: -20}, 4)
	assert.Equal(t, []models.Point{
		{X: 2.5, Y: -5},
		{X: 5, Y: -10},
		{X: 7.5, Y: -15},
		{X: 10, Y: -20},
	}, points)
}

func startRelay(t *testing.T) *httptest.Server {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pageboardAPI := api.NewPageboardAPI(store.NewNullStore(), memq.New(), memory.NewMemoryPageCache(), nil, ctx)
	srv := httptest.NewServer(pageboardAPI.Router())
	t.Cleanup(srv.Close)
	return srv
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

func runCmd(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&strings.Builder{})
	root.SetErr(&strings.Builder{})
	return root.ExecuteContext(context.Background())
}

func TestDrawThenSnapshot(t *testing.T) {
	srv := startRelay(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	err := runCmd(t, "draw", "--url", url, "--page", "1",
		"--from", "4,16", "--to", "60,16", "--color", "#ff0000", "--size", "6", "--steps", "7")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return historyLen(srv, "1") == 7 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, historyLen(srv, "0"))

	out := filepath.Join(t.TempDir(), "page.png")
	err = runCmd(t, "snapshot", "--url", url, "--page", "1", "--out", out, "--width", "64", "--height", "32")
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	r, g, b, a := img.At(30, 16).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
	assert.Equal(t, uint32(0xffff), a)

	_, _, _, a = img.At(30, 2).RGBA()
	assert.Equal(t, uint32(0), a)
}

func TestDrawRejectsBadInput(t *testing.T) {
	assert.Error(t, runCmd(t, "draw", "--url", "ws://127.0.0.1:1/ws", "--from", "nope"))
	assert.ErrorIs(t, runCmd(t, "draw", "--url", "ws://127.0.0.1:1/ws", "--page", "-1"), models.ErrInvalidPage)
	assert.Error(t, runCmd(t, "draw", "--url", "ws://127.0.0.1:1/ws", "--steps", "0"))
	assert.ErrorIs(t, runCmd(t, "draw", "--url", "ws://127.0.0.1:1/ws", "--color="), models.ErrInvalidColor)
}

func TestSnapshotTimesOutWithoutRelay(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.png")
	err := runCmd(t, "snapshot", "--url", "ws://127.0.0.1:1/ws", "--out", out, "--timeout", "200ms")
	assert.ErrorIs(t, err, errHistoryTimeout)
	assert.NoFileExists(t, out)
}
