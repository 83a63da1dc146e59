// Package transport frames control JSON and binary PCM over one persistent
// websocket per session, in both directions.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/gautambitious/jin-ai/pkg/logging"
)

// outboundDepth bounds frames queued behind a slow socket.
const outboundDepth = 256

type frame struct {
	binary bool
	data   []byte
}

// Handler consumes inbound frames. Both methods run on the read goroutine;
// implementations must not block it on playback or capture.
type Handler interface {
	HandleControl(data []byte)
	HandleBinary(data []byte)
}

// Conn wraps one accepted websocket. All writes funnel through a single
// writer goroutine consuming an outbound queue, so any stage may produce
// frames without racing on the socket.
type Conn struct {
	ws  *websocket.Conn
	log logging.Logger

	outbound chan frame
	ctx      context.Context
	cancel   context.CancelFunc
	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, log logging.Logger) *Conn {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ws:       ws,
		log:      log,
		outbound: make(chan frame, outboundDepth),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WriteControl marshals and enqueues a JSON control frame.
func (c *Conn) WriteControl(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}
	return c.enqueue(frame{binary: false, data: data})
}

// WriteAudio enqueues a binary PCM frame.
func (c *Conn) WriteAudio(chunk []byte) error {
	return c.enqueue(frame{binary: true, data: chunk})
}

func (c *Conn) enqueue(f frame) error {
	if c.ctx.Err() != nil {
		return fmt.Errorf("transport closed")
	}
	select {
	case c.outbound <- f:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("transport closed")
	}
}

// Run pumps frames both ways until the socket closes or ctx ends. It owns
// the socket lifetime: when Run returns, the connection is closed.
func (c *Conn) Run(ctx context.Context, handler Handler) error {
	defer c.Close()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- c.writeLoop(ctx)
	}()

	readErr := c.readLoop(ctx, handler)

	c.cancel()
	<-writeErr
	return readErr
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case f := <-c.outbound:
			msgType := websocket.MessageText
			if f.binary {
				msgType = websocket.MessageBinary
			}
			if err := c.ws.Write(ctx, msgType, f.data); err != nil {
				c.cancel()
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, handler Handler) error {
	for {
		msgType, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}

		switch msgType {
		case websocket.MessageText:
			handler.HandleControl(data)
		case websocket.MessageBinary:
			handler.HandleBinary(data)
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "")
	})
}
