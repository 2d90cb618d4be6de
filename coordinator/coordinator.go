// Package coordinator drives the client side of page sync.
//
// A Coordinator owns the page store, the drawing surface and the channel for
// the page being viewed. All state changes run on the goroutine executing
// Run: public methods post a closure and wait for it, channel callbacks post
// without waiting. Callbacks from a channel that has since been replaced are
// ignored.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/pages"
	"github.com/zlnvch/pageboard/protocol"
	"github.com/zlnvch/pageboard/render"
)

type State int

const (
	Disconnected State = iota
	Joining
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Joining:
		return "joining"
	case Active:
		return "active"
	}
	return "unknown"
}

// Channel is a live subscription to one page.
type Channel interface {
	Open(ctx context.Context, page int) error
	Send(action models.Action)
	SendClear()
	OnMessage(handler func(protocol.Message))
	OnDisconnect(handler func(error))
	Close()
}

type ChannelFactory func() Channel

type Options struct {
	Logger *log.Logger

	// OnHistory runs on the event loop after a history snapshot was replayed.
	OnHistory func(page int, count int)

	// OnStateChange runs on the event loop after every state transition.
	OnStateChange func(state State, page int)

	OpenTimeout time.Duration
}

var ErrStopped = errors.New("coordinator stopped")

const (
	defaultOpenTimeout = 10 * time.Second
	eventBufferSize    = 256

	defaultColor      = "#000000"
	defaultStrokeSize = 4
)

type Coordinator struct {
	store      *pages.Store
	surface    render.Surface
	newChannel ChannelFactory
	opts       Options
	logger     *log.Logger

	events  chan func()
	stopped chan struct{}

	// Owned by the event loop.
	ctx     context.Context
	state   State
	page    int
	channel Channel
	gen     uint64
	// Ids already in the page log, from history and live draws.
	seen map[string]struct{}

	tool       models.Tool
	color      string
	strokeSize float64
	drawing    bool
	last       models.Point
}

func New(store *pages.Store, surface render.Surface, newChannel ChannelFactory, opts Options) *Coordinator {
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		store:      store,
		surface:    surface,
		newChannel: newChannel,
		opts:       opts,
		logger:     logger,
		events:     make(chan func(), eventBufferSize),
		stopped:    make(chan struct{}),
		state:      Disconnected,
		tool:       models.ToolPen,
		color:      defaultColor,
		strokeSize: defaultStrokeSize,
	}
}

// Run joins page 0 and processes events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.stopped)

	c.join(c.page)

	for {
		select {
		case fn := <-c.events:
			fn()

		case <-ctx.Done():
			if c.channel != nil {
				c.channel.Close()
				c.channel = nil
			}
			c.setState(Disconnected)
			return nil
		}
	}
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

func (c *Coordinator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.events <- func() { fn(); close(done) }:
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Coordinator) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.stopped:
	}
}

func (c *Coordinator) setState(state State) {
	c.state = state
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state, c.page)
	}
}

func (c *Coordinator) join(page int) {
	c.gen++
	gen := c.gen
	c.page = page
	c.seen = nil

	ch := c.newChannel()
	c.channel = ch
	ch.OnMessage(func(msg protocol.Message) {
		c.post(func() { c.handleMessage(gen, msg) })
	})
	ch.OnDisconnect(func(err error) {
		c.post(func() { c.handleDisconnect(gen, err) })
	})
	c.setState(Joining)

	ctx := c.ctx
	go func() {
		openCtx, cancel := context.WithTimeout(ctx, c.opts.OpenTimeout)
		defer cancel()
		err := ch.Open(openCtx, page)
		c.post(func() { c.handleOpened(gen, err) })
	}()
}

func (c *Coordinator) leave() {
	c.endStroke()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
}

func (c *Coordinator) handleOpened(gen uint64, err error) {
	if gen != c.gen || c.state != Joining {
		return
	}
	if err != nil {
		c.logger.Warn("Failed to join page", "page", c.page, "err", err)
		c.setState(Disconnected)
		return
	}
	c.logger.Debug("Joined page", "page", c.page)
	c.setState(Active)
}

func (c *Coordinator) handleDisconnect(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.logger.Warn("Sync channel disconnected", "page", c.page, "err", err)
	c.setState(Disconnected)
}

func (c *Coordinator) handleMessage(gen uint64, msg protocol.Message) {
	if gen != c.gen {
		return
	}
	if msg.Page != c.page {
		c.logger.Debug("Ignoring message for another page", "type", msg.Type, "page", msg.Page, "current", c.page)
		return
	}

	switch msg.Type {
	case protocol.TypeHistory:
		n, err := c.store.ReplaceHistory(c.page, msg.History)
		if err != nil {
			c.logger.Warn("Failed to replace history", "page", c.page, "err", err)
			return
		}
		actions := c.store.Actions(c.page)
		c.seen = make(map[string]struct{}, len(actions))
		for _, a := range actions {
			if a.Id != "" {
				c.seen[a.Id] = struct{}{}
			}
		}
		render.Replay(c.surface, actions)
		if c.opts.OnHistory != nil {
			c.opts.OnHistory(c.page, n)
		}

	case protocol.TypeClear:
		c.store.Clear(c.page)
		c.surface.Clear()

	case protocol.TypeDraw:
		action := msg.Action
		if err := action.Validate(); err != nil {
			c.logger.Debug("Dropping invalid action", "err", err)
			return
		}
		if action.Id != "" {
			if _, ok := c.seen[action.Id]; ok {
				return
			}
		}
		if err := c.store.Append(c.page, action); err != nil {
			c.logger.Warn("Failed to append action", "page", c.page, "err", err)
			return
		}
		if action.Id != "" && c.seen != nil {
			c.seen[action.Id] = struct{}{}
		}
		render.Paint(c.surface, action)
	}
}

func (c *Coordinator) goToPage(page int) {
	if page < 0 || page >= c.store.Len() || page == c.page {
		return
	}
	c.leave()
	render.Replay(c.surface, c.store.Actions(page))
	c.join(page)
}

// GoToPage switches to page. Out of range pages and the current page are
// ignored.
func (c *Coordinator) GoToPage(page int) error {
	return c.do(func() { c.goToPage(page) })
}

// AddPage appends an empty page and switches to it.
func (c *Coordinator) AddPage() (int, error) {
	var page int
	err := c.do(func() {
		page = c.store.AddPage()
		c.goToPage(page)
	})
	return page, err
}

// EnsurePageCount appends empty pages until there are at least n.
func (c *Coordinator) EnsurePageCount(n int) error {
	return c.do(func() {
		for c.store.Len() < n {
			c.store.AddPage()
		}
	})
}

// Resync rejoins the current page, which replays the local log and requests
// a fresh history snapshot.
func (c *Coordinator) Resync() error {
	return c.do(func() {
		c.leave()
		render.Replay(c.surface, c.store.Actions(c.page))
		c.join(c.page)
	})
}

func (c *Coordinator) PointerDown(p models.Point) error {
	return c.do(func() {
		c.drawing = true
		c.last = p
	})
}

// PointerMove paints the segment from the previous pointer position, records
// it and sends it, in that order.
func (c *Coordinator) PointerMove(p models.Point) error {
	return c.do(func() {
		if !c.drawing {
			return
		}
		action := models.Action{
			Page:       c.page,
			Prev:       c.last,
			Current:    p,
			Tool:       c.tool,
			Color:      c.color,
			StrokeSize: c.strokeSize,
		}
		c.last = p
		if err := action.Validate(); err != nil {
			c.logger.Debug("Ignoring invalid local segment", "err", err)
			return
		}

		render.Paint(c.surface, action)
		if err := c.store.Append(c.page, action); err != nil {
			c.logger.Warn("Failed to append local action", "page", c.page, "err", err)
		}
		if c.channel != nil {
			c.channel.Send(action)
		}
	})
}

func (c *Coordinator) PointerUp() error {
	return c.do(c.endStroke)
}

func (c *Coordinator) endStroke() {
	c.drawing = false
}

// ClearBoard wipes the current page locally and tells the other clients.
func (c *Coordinator) ClearBoard() error {
	return c.do(func() {
		c.store.Clear(c.page)
		c.surface.Clear()
		if c.channel != nil {
			c.channel.SendClear()
		}
	})
}

func (c *Coordinator) SetTool(tool models.Tool) error {
	if !tool.Valid() {
		return models.ErrInvalidTool
	}
	return c.do(func() { c.tool = tool })
}

func (c *Coordinator) SetColor(color string) error {
	if !models.ValidColor(color) {
		return models.ErrInvalidColor
	}
	return c.do(func() { c.color = color })
}

func (c *Coordinator) SetStrokeSize(size float64) error {
	if size <= 0 || size > models.MaxStrokeSize {
		return models.ErrInvalidStrokeSize
	}
	return c.do(func() { c.strokeSize = size })
}

func (c *Coordinator) State() State {
	var state State
	c.do(func() { state = c.state })
	return state
}

func (c *Coordinator) Page() int {
	var page int
	c.do(func() { page = c.page })
	return page
}

func (c *Coordinator) PageCount() int {
	var n int
	c.do(func() { n = c.store.Len() })
	return n
}

func (c *Coordinator) Actions(page int) []models.Action {
	var actions []models.Action
	c.do(func() { actions = c.store.Actions(page) })
	return actions
}

// Inspect runs fn on the event loop, so fn may read the surface safely.
func (c *Coordinator) Inspect(fn func()) error {
	return c.do(fn)
}
