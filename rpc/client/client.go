package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("client")

const (
	eventBufferSize = 64
	closeTimeout    = time.Second
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// ICaller issues one request and waits for its response
type ICaller interface {
	Call(ctx context.Context, action string, params map[string]any, profile bool) (*common.Response, error)
}

var _ ICaller = (*Client)(nil)

// Client is a websocket caller of the bridge. Requests may be issued
// concurrently, responses are correlated by id.
type Client struct {
	config common.ClientConfig
	conn   *websocket.Conn

	writeMu sync.Mutex
	pending *xsync.MapOf[string, chan *common.Response]
	counter atomic.Uint64

	events    chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once
}

// -----------------------------------------------------------
// Client Factory Method
// -----------------------------------------------------------

// Dial connects to the bridge described by config
//
// Usage:
//
//	c, err := client.Dial(ctx, common.ClientConfig{WSHost: "127.0.0.1", WSPort: 8765})
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//
//	resp, err := c.Call(ctx, "navigate", map[string]any{"url": "https://example.com"}, false)
func Dial(ctx context.Context, config common.ClientConfig) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.URL(), err)
	}

	c := &Client{
		config:  config,
		conn:    conn,
		pending: xsync.NewMapOf[string, chan *common.Response](),
		events:  make(chan json.RawMessage, eventBufferSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	Logger.Debugf("Connected to %s", config.URL())
	return c, nil
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Call sends one request and waits for its response. A response with ok=false
// is returned as is, errors are only returned if no response arrived. Profiled
// calls get clientMs added to the timing of the response.
func (c *Client) Call(ctx context.Context, action string, params map[string]any, profile bool) (*common.Response, error) {
	prefix := "call"
	if profile {
		prefix = "prof"
	}
	id := fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixMilli(), c.counter.Add(1))

	ch := make(chan *common.Response, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	timer := time.NewTimer(c.config.Timeout())
	defer timer.Stop()

	start := time.Now()
	if err := c.write(&common.Request{ID: id, Action: action, Params: params, Profile: profile}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if profile {
			resp.AddTiming(common.HopClient, common.SinceMs(start))
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s (%s)", common.ErrTimeout, id, action)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, common.ErrClosed
	}
}

// Events returns the messages of the bridge that are not responses to a call
// of this client (ready greeting, broadcast events, uncorrelated errors). If
// nobody reads them, new events are dropped once the buffer is full.
func (c *Client) Events() <-chan json.RawMessage {
	return c.events
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Calls still waiting fail with common.ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Client) write(req *common.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return common.ErrClosed
	default:
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				Logger.Debugf("Connection to %s ended: %v", c.config.URL(), err)
			}
			c.conn.Close()
			return
		}

		var resp common.Response
		if err := json.Unmarshal(data, &resp); err == nil && resp.ID != "" {
			if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
				ch <- &resp
				continue
			}
		}
		c.emit(data)
	}
}

func (c *Client) emit(data []byte) {
	select {
	case c.events <- data:
	default:
		Logger.Debugf("Event buffer full, dropping message")
	}
}
