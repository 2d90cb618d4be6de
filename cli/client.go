package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/zlnvch/pageboard/coordinator"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/pages"
	"github.com/zlnvch/pageboard/render"
	"github.com/zlnvch/pageboard/render/raster"
	"github.com/zlnvch/pageboard/syncchan"
)

const defaultURL = "ws://localhost:8080/ws"

var errHistoryTimeout = errors.New("timed out waiting for page history")

// client is a headless board: a coordinator synced through one session.
type client struct {
	coordinator *coordinator.Coordinator
	session     *syncchan.Session
	history     chan int
	page        int
	cancel      context.CancelFunc
}

// startClient runs a coordinator on page and returns once the page history
// has been replayed onto surface.
func startClient(ctx context.Context, url string, page int, surface render.Surface, timeout time.Duration) (*client, error) {
	logger := loggerFromContext(ctx)
	cl := &client{
		session: syncchan.NewSession(url, nil),
		history: make(chan int, 1),
		page:    page,
	}

	cl.coordinator = coordinator.New(
		pages.NewStore(),
		surface,
		func() coordinator.Channel { return cl.session.Channel() },
		coordinator.Options{
			Logger:      logger,
			OpenTimeout: timeout,
			OnHistory: func(p int, count int) {
				if p != page {
					return
				}
				select {
				case cl.history <- count:
				default:
				}
			},
			OnStateChange: func(state coordinator.State, p int) {
				logger.Debug("Board state", "state", state, "page", p)
			},
		},
	)

	runCtx, cancel := context.WithCancel(ctx)
	cl.cancel = cancel
	go cl.coordinator.Run(runCtx)

	if page > 0 {
		if err := cl.coordinator.EnsurePageCount(page + 1); err != nil {
			cl.stop()
			return nil, err
		}
		if err := cl.coordinator.GoToPage(page); err != nil {
			cl.stop()
			return nil, err
		}
	}

	select {
	case n := <-cl.history:
		logger.Debug("Page history replayed", "page", page, "actions", n)
		return cl, nil
	case <-time.After(timeout):
		cl.stop()
		return nil, errHistoryTimeout
	case <-ctx.Done():
		cl.stop()
		return nil, ctx.Err()
	}
}

// stop leaves the page and flushes queued frames before closing the session.
func (cl *client) stop() {
	cl.cancel()
	<-cl.coordinator.Done()
	cl.session.Close()
}

func newSnapshotCmd() *cobra.Command {
	var (
		url           string
		page          int
		out           string
		width, height int
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render a page of a running board to a PNG file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.ValidPage(page) {
				return models.ErrInvalidPage
			}
			canvas := raster.New(width, height)
			cl, err := startClient(cmd.Context(), url, page, canvas, timeout)
			if err != nil {
				return err
			}
			defer cl.stop()

			var buf bytes.Buffer
			var encodeErr error
			if err := cl.coordinator.Inspect(func() { encodeErr = canvas.EncodePNG(&buf) }); err != nil {
				return err
			}
			if encodeErr != nil {
				return encodeErr
			}

			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return err
			}
			log.Info("Wrote snapshot", "page", page, "path", out, "bytes", buf.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", defaultURL, "relay websocket url")
	cmd.Flags().IntVarP(&page, "page", "p", 0, "page to render")
	cmd.Flags().StringVarP(&out, "out", "o", "page.png", "output file")
	cmd.Flags().IntVar(&width, "width", 1280, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 720, "image height in pixels")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the page")
	return cmd
}

func newDrawCmd() *cobra.Command {
	var (
		url      string
		page     int
		from, to string
		tool     string
		color    string
		size     float64
		steps    int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Draw a straight stroke on a page of a running board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.ValidPage(page) {
				return models.ErrInvalidPage
			}
			start, err := parsePoint(from)
			if err != nil {
				return err
			}
			end, err := parsePoint(to)
			if err != nil {
				return err
			}
			if steps < 1 {
				return fmt.Errorf("steps must be at least 1, got %d", steps)
			}
			if !models.ValidColor(color) {
				return models.ErrInvalidColor
			}

			cl, err := startClient(cmd.Context(), url, page, nullSurface{}, timeout)
			if err != nil {
				return err
			}
			defer cl.stop()

			c := cl.coordinator
			if err := c.SetTool(models.Tool(tool)); err != nil {
				return err
			}
			if err := c.SetColor(color); err != nil {
				return err
			}
			if err := c.SetStrokeSize(size); err != nil {
				return err
			}

			if err := c.PointerDown(start); err != nil {
				return err
			}
			for _, p := range interpolate(start, end, steps) {
				if err := c.PointerMove(p); err != nil {
					return err
				}
			}
			if err := c.PointerUp(); err != nil {
				return err
			}

			log.Info("Drew stroke", "page", page, "segments", steps, "from", from, "to", to)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", defaultURL, "relay websocket url")
	cmd.Flags().IntVarP(&page, "page", "p", 0, "page to draw on")
	cmd.Flags().StringVar(&from, "from", "0,0", "start point as x,y")
	cmd.Flags().StringVar(&to, "to", "100,100", "end point as x,y")
	cmd.Flags().StringVar(&tool, "tool", string(models.ToolPen), "pen or eraser")
	cmd.Flags().StringVar(&color, "color", "#000000", "stroke color")
	cmd.Flags().Float64Var(&size, "size", 4, "stroke size")
	cmd.Flags().IntVar(&steps, "steps", 10, "number of segments")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the page")
	return cmd
}

// nullSurface discards painting for clients that only send.
type nullSurface struct{}

func (nullSurface) Stroke(prev, current models.Point, tool models.Tool, color string, size float64) {}
func (nullSurface) Clear()                                                                         {}

func parsePoint(s string) (models.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return models.Point{}, fmt.Errorf("point %q is not x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return models.Point{X: x, Y: y}, nil
}

// interpolate returns the steps points after start on the way to end, ending
// exactly at end.
func interpolate(start, end models.Point, steps int) []models.Point {
	points := make([]models.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		points = append(points, models.Point{
			X: start.X + (end.X-start.X)*t,
			Y: start.Y + (end.Y-start.Y)*t,
		})
	}
	return points
}
