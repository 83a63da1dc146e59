package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/gautambitious/jin-ai/pkg/logging"
)

// ClientConfig tunes the edge's persistent connection.
type ClientConfig struct {
	URL string

	// MaxRetries caps reconnect attempts; 0 means retry forever.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Client is the edge side of the transport: a persistent websocket with
// exponential-backoff reconnect. Outbound sends are non-blocking; the
// capture loop must never stall on the network, so once the outbound queue
// is full new frames are dropped and logged.
type Client struct {
	cfg     ClientConfig
	handler Handler
	log     logging.Logger

	// OnConnect fires on the connection goroutine after every successful
	// dial, before the read loop starts.
	OnConnect func()

	outbound chan frame
}

func NewClient(cfg ClientConfig, handler Handler, log logging.Logger) *Client {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	return &Client{
		cfg:      cfg,
		handler:  handler,
		log:      log,
		outbound: make(chan frame, outboundDepth),
	}
}

// TrySendControl enqueues a JSON control frame without blocking. Reports
// false when the frame was dropped.
func (c *Client) TrySendControl(msg interface{}) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal control frame failed", "error", err)
		return false
	}
	return c.trySend(frame{binary: false, data: data})
}

// TrySendBinary enqueues a PCM frame without blocking.
func (c *Client) TrySendBinary(chunk []byte) bool {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	return c.trySend(frame{binary: true, data: cp})
}

func (c *Client) trySend(f frame) bool {
	select {
	case c.outbound <- f:
		return true
	default:
		c.log.Warn("outbound queue full, dropping frame", "binary", f.binary, "bytes", len(f.data))
		return false
	}
}

// Run dials and services the connection until ctx ends or the retry budget
// is spent. Backoff doubles from InitialDelay up to MaxDelay and resets on
// a successful connect.
func (c *Client) Run(ctx context.Context) error {
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			retries = 0
		}

		if c.cfg.MaxRetries > 0 && retries >= c.cfg.MaxRetries {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", retries, err)
		}

		delay := c.retryDelay(retries)
		retries++
		c.log.Info("reconnecting", "attempt", retries, "delay", delay.String(), "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce reports whether the dial succeeded, along with the error that
// ended the attempt.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	ws.SetReadLimit(1 << 22)
	defer ws.Close(websocket.StatusNormalClosure, "")

	c.log.Info("connected", "url", c.cfg.URL)
	if c.OnConnect != nil {
		c.OnConnect()
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case f := <-c.outbound:
				msgType := websocket.MessageText
				if f.binary {
					msgType = websocket.MessageBinary
				}
				if err := ws.Write(connCtx, msgType, f.data); err != nil {
					writeErr <- err
					cancel()
					return
				}
			case <-connCtx.Done():
				writeErr <- nil
				return
			}
		}
	}()

	var readErr error
	for {
		msgType, data, err := ws.Read(connCtx)
		if err != nil {
			readErr = err
			break
		}
		switch msgType {
		case websocket.MessageText:
			c.handler.HandleControl(data)
		case websocket.MessageBinary:
			c.handler.HandleBinary(data)
		}
	}

	cancel()
	<-writeErr
	return true, readErr
}

func (c *Client) retryDelay(retries int) time.Duration {
	delay := c.cfg.InitialDelay << retries
	if delay > c.cfg.MaxDelay || delay <= 0 {
		delay = c.cfg.MaxDelay
	}
	return delay
}
