package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/protocol"
)

const defaultStatusTimeout = 2 * time.Second

// Client is a world connection over WebSocket. Requests are multiplexed on
// one socket, so a Client is safe for concurrent use. Block states travel as
// strings and are mapped through the client's own codec.
type Client struct {
	conn    *websocket.Conn
	codec   blocks.Codec
	log     *zap.Logger
	timeout time.Duration
	welcome protocol.WelcomeMsg

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan protocol.Response
	lost    error

	nextID    atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

type ClientOption func(*Client)

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithStatusTimeout bounds the status round trip behind Ready and Paused.
func WithStatusTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func Dial(ctx context.Context, url string, codec blocks.Codec, opts ...ClientOption) (*Client, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, errs.Wrap(err, errs.WorldUnavailable, "dial %s", url)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(maxMessageBytes)

	c := &Client{
		conn:    conn,
		codec:   codec,
		log:     zap.NewNop(),
		timeout: defaultStatusTimeout,
		pending: map[uint64]chan protocol.Response{},
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "buildctl",
	}
	if err := writeJSON(conn, hello); err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(err, errs.WorldUnavailable, "send hello")
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(err, errs.WorldUnavailable, "read welcome")
	}
	if err := json.Unmarshal(msg, &c.welcome); err != nil || c.welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, errs.New(errs.WorldUnavailable, "expected WELCOME")
	}
	if !protocol.IsSupportedVersion(c.welcome.ProtocolVersion) {
		_ = conn.Close()
		return nil, errs.New(errs.WorldUnavailable, "unsupported protocol_version %q", c.welcome.ProtocolVersion)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.log = c.log.With(zap.String("session", c.welcome.SessionID))
	c.log.Info("connected to world", zap.String("url", url))
	go c.readLoop()
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

// Close disconnects and waits for the read loop. Calls still in flight fail
// with WorldUnavailable.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeResp {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.log.Warn("bad response", zap.Error(err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost == nil {
		c.lost = err
		c.log.Info("world connection lost", zap.Error(err))
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// call sends req and waits for its response. The response is returned with
// the error so callers can read partial results such as Executed.
func (c *Client) call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Response{}, errs.Wrap(err, errs.Cancelled, "%s cancelled", req.Op)
	}
	req.Type = protocol.TypeReq
	req.ID = c.nextID.Add(1)
	ch := make(chan protocol.Response, 1)

	c.mu.Lock()
	if c.lost != nil {
		lost := c.lost
		c.mu.Unlock()
		return protocol.Response{}, errs.Wrap(lost, errs.WorldUnavailable, "connection lost")
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	b, err := json.Marshal(req)
	if err != nil {
		c.forget(req.ID)
		return protocol.Response{}, err
	}
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return protocol.Response{}, errs.Wrap(err, errs.WorldUnavailable, "send %s", req.Op)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, errs.New(errs.WorldUnavailable, "connection lost during %s", req.Op)
		}
		if resp.Error != nil {
			return resp, wireErr(req.Op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return protocol.Response{}, errs.Wrap(ctx.Err(), errs.Cancelled, "%s cancelled", req.Op)
	}
}

func wireErr(op string, e *protocol.ErrorInfo) error {
	kind := errs.WorldUnavailable
	if e.Code == protocol.ErrBadCommand || e.Code == protocol.ErrProtoBadRequest {
		kind = errs.ExecFailed
	}
	return errs.New(kind, "%s: %s", op, e.Message).With("code", e.Code)
}

func (c *Client) status(ctx context.Context) (protocol.Status, error) {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.call(tctx, protocol.Request{Op: protocol.OpStatus})
	if err != nil {
		if ctx.Err() == nil && errs.Has(err, errs.Cancelled) {
			return protocol.Status{}, errs.Wrap(err, errs.WorldUnavailable, "status timed out after %s", c.timeout)
		}
		return protocol.Status{}, err
	}
	if resp.Status == nil {
		return protocol.Status{}, errs.New(errs.WorldUnavailable, "status response without status")
	}
	return *resp.Status, nil
}

// WorldStatus reads both flags in one round trip.
func (c *Client) WorldStatus(ctx context.Context) (ready, paused bool, err error) {
	st, err := c.status(ctx)
	if err != nil {
		return false, true, err
	}
	return st.Ready, st.Paused, nil
}

// Ready is false when the world says so or cannot be reached.
func (c *Client) Ready() bool {
	ready, _, err := c.WorldStatus(context.Background())
	return err == nil && ready
}

// Paused is true when the world says so or cannot be reached.
func (c *Client) Paused() bool {
	_, paused, err := c.WorldStatus(context.Background())
	return err != nil || paused
}

func (c *Client) ReadState(ctx context.Context, pos geom.Vec3i) (blocks.StateID, bool, error) {
	resp, err := c.call(ctx, protocol.Request{Op: protocol.OpRead, Pos: &pos})
	if err != nil {
		return 0, false, err
	}
	if !resp.Observable {
		return 0, false, nil
	}
	id, err := c.codec.StateID(resp.State)
	if err != nil {
		return 0, false, errs.Wrap(err, errs.WorldUnavailable, "world sent state %q", resp.State)
	}
	return id, true, nil
}

func (c *Client) Exec(ctx context.Context, cmd string) error {
	_, err := c.call(ctx, protocol.Request{Op: protocol.OpExec, Command: cmd})
	return err
}

func (c *Client) ExecBatch(ctx context.Context, cmds []string) (int, error) {
	resp, err := c.call(ctx, protocol.Request{Op: protocol.OpBatch, Commands: cmds})
	return resp.Executed, err
}
