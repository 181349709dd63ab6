package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/internal/pool"
	"github.com/arloliu/go-msbridge/logger"
)

// Client is an acquisition.Instrument backed by a remote Server.
//
// Replies are routed by frame ID on the read loop. Instrument events are handed to a separate
// event loop, so event handlers may issue requests, e.g. a ready handler submitting the next scan.
// The event loop buffers up to the configured event queue size; once it is full the read loop
// waits for handlers to catch up.
type Client struct {
	conn   *websocket.Conn
	cfg    clientConfig
	logger logger.Logger
	idGen  *frameIDGenerator

	sessionID string
	params    []acquisition.ParameterDescription

	state    atomic.Uint32
	lastScan atomic.Pointer[acquisition.ResultScan]

	replies  *xsync.MapOf[uint32, chan *Frame]
	events   chan *Frame
	scanBus  *acquisition.Bus[*acquisition.ResultScan]
	readyBus *acquisition.Bus[struct{}]

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closing   chan struct{}
	readDone  chan struct{}
}

var _ acquisition.Instrument = (*Client)(nil)

// Dial connects to the Server at url, e.g. "ws://localhost:7600/instrument", and waits for the
// session hello.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		replyTimeout:   DefaultReplyTimeout,
		writeTimeout:   DefaultWriteTimeout,
		eventQueueSize: DefaultEventQueueSize,
		logger:         logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.applyClient(&cfg); err != nil {
			return nil, err
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello, err := readHello(conn, cfg.replyTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	state, ok := acquisition.ParseHandshakeState(hello.State)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unknown state %q", ErrHandshake, hello.State)
	}

	c := &Client{
		conn:      conn,
		cfg:       cfg,
		logger:    cfg.logger.With("session", hello.Session),
		idGen:     newFrameIDGenerator(),
		sessionID: hello.Session,
		params:    hello.Params,
		replies:   xsync.NewMapOf[uint32, chan *Frame](),
		events:    make(chan *Frame, cfg.eventQueueSize),
		closing:   make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	c.scanBus = acquisition.NewBus[*acquisition.ResultScan]("scan-arrived", c.logger)
	c.readyBus = acquisition.NewBus[struct{}]("ready-for-next", c.logger)
	c.state.Store(uint32(state))

	go c.readLoop()
	go c.eventLoop()

	c.logger.Info("remote instrument connected", "url", url, "state", state)

	return c, nil
}

func readHello(conn *websocket.Conn, timeout time.Duration) (*Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if f.Type != FrameHello {
		return nil, fmt.Errorf("%w: expect hello frame, got %q", ErrHandshake, f.Type)
	}

	return &f, nil
}

// SessionID returns the ID the server assigned to this connection.
func (c *Client) SessionID() string {
	return c.sessionID
}

// SubmitCustomScan sends req to the remote instrument and waits for its accept or reject.
//
// The request is validated locally first; an invalid request never reaches the server.
func (c *Client) SubmitCustomScan(ctx context.Context, req acquisition.CustomScanRequest) (acquisition.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return acquisition.SubmitResult{}, err
	}

	if err := req.Validate(); err != nil {
		return acquisition.SubmitResult{}, err
	}

	reply, err := c.request(ctx, &Frame{Type: FrameSubmit, Request: &req})
	if err != nil {
		return acquisition.SubmitResult{}, err
	}

	if reply.Result == nil {
		return acquisition.SubmitResult{}, fmt.Errorf("%w: submit reply without result", ErrRemote)
	}

	return *reply.Result, nil
}

// OnScanArrived registers a handler called on the event loop for every scan-arrived event.
func (c *Client) OnScanArrived(handler acquisition.ScanArrivedHandler) *acquisition.Subscription {
	return c.scanBus.Subscribe(handler)
}

// OnReadyForNext registers a handler called on the event loop for every ready event.
func (c *Client) OnReadyForNext(handler acquisition.ReadyHandler) *acquisition.Subscription {
	return c.readyBus.Subscribe(func(struct{}) { handler() })
}

// LastScan returns the last scan observed on this connection.
func (c *Client) LastScan() (*acquisition.ResultScan, bool) {
	scan := c.lastScan.Load()
	return scan, scan != nil
}

// FetchLastScan asks the server for the instrument's last scan.
func (c *Client) FetchLastScan(ctx context.Context) (*acquisition.ResultScan, bool, error) {
	reply, err := c.request(ctx, &Frame{Type: FrameLastScan})
	if err != nil {
		return nil, false, err
	}

	return reply.Scan, reply.Scan != nil, nil
}

// State returns the handshake state as observed from the frames received so far.
func (c *Client) State() acquisition.HandshakeState {
	return acquisition.HandshakeState(c.state.Load())
}

// FetchState asks the server for the instrument's current handshake state.
func (c *Client) FetchState(ctx context.Context) (acquisition.HandshakeState, error) {
	reply, err := c.request(ctx, &Frame{Type: FrameState})
	if err != nil {
		return acquisition.ReadyState, err
	}

	state, ok := acquisition.ParseHandshakeState(reply.State)
	if !ok {
		return acquisition.ReadyState, fmt.Errorf("%w: unknown state %q", ErrRemote, reply.State)
	}

	return state, nil
}

// PossibleParameters returns the parameter list sent with the session hello.
func (c *Client) PossibleParameters() []acquisition.ParameterDescription {
	out := make([]acquisition.ParameterDescription, len(c.params))
	copy(out, c.params)

	return out
}

// Done returns a channel that is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.readDone
}

// Close closes the connection. Requests waiting for a reply fail with ErrClientClosed.
// The remote instrument keeps running.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		_ = c.conn.Close()
		c.logger.Info("remote instrument disconnected")
	})

	<-c.readDone

	return nil
}

func (c *Client) request(ctx context.Context, f *Frame) (*Frame, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	f.ID = c.idGen.next()
	replyCh := make(chan *Frame, 1)
	c.replies.Store(f.ID, replyCh)

	// the read loop fails pending replies after setting closed
	if c.closed.Load() {
		c.replies.Delete(f.ID)
		return nil, ErrClientClosed
	}

	if err := c.write(f); err != nil {
		c.replies.Delete(f.ID)
		return nil, fmt.Errorf("%w: write %s frame: %w", ErrClientClosed, f.Type, err)
	}

	reply, err := pool.Await[*Frame](ctx, replyCh, c.cfg.replyTimeout)
	if err != nil {
		c.replies.Delete(f.ID)
		if errors.Is(err, pool.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s frame id=%d", ErrReplyTimeout, f.Type, f.ID)
		}

		return nil, err
	}

	if reply == nil {
		return nil, ErrClientClosed
	}

	if reply.Type == FrameError {
		return nil, frameErr(reply)
	}

	return reply, nil
}

func (c *Client) write(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))

	return c.conn.WriteJSON(f)
}

// readLoop routes replies to their waiting requests and events to the event loop.
// Handshake state and last scan are tracked here so they follow wire order.
func (c *Client) readLoop() {
	defer func() {
		c.closed.Store(true)
		c.replies.Range(func(id uint32, ch chan *Frame) bool {
			if _, ok := c.replies.LoadAndDelete(id); ok {
				close(ch)
			}
			return true
		})
		close(c.events)
		close(c.readDone)
	}()

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !c.closed.Load() {
				c.logger.Warn("remote connection lost", "error", err)
			}
			return
		}

		switch {
		case f.IsEvent():
			c.track(&f)
			select {
			case c.events <- &f:
			case <-c.closing:
				return
			}

		case f.ID != 0:
			if f.Type == FrameSubmitResult && f.Result != nil && f.Result.Accepted {
				c.state.Store(uint32(acquisition.BusyState))
			}

			replyCh, ok := c.replies.LoadAndDelete(f.ID)
			if !ok {
				c.logger.Debug("discard unmatched reply", "type", f.Type, "id", f.ID)
				continue
			}
			replyCh <- &f

		default:
			c.logger.Warn("unexpected frame", "type", f.Type, "code", f.Code, "error", f.Error)
		}
	}
}

func (c *Client) track(f *Frame) {
	switch f.Type {
	case FrameScanArrived:
		if f.Scan != nil {
			c.lastScan.Store(f.Scan)
		}
		c.state.Store(uint32(acquisition.BusyState))
	case FrameReady:
		c.state.Store(uint32(acquisition.ReadyState))
	}
}

func (c *Client) eventLoop() {
	for f := range c.events {
		switch f.Type {
		case FrameScanArrived:
			if f.Scan != nil {
				c.scanBus.Publish(f.Scan)
			}
		case FrameReady:
			c.readyBus.Publish(struct{}{})
		}
	}
}
