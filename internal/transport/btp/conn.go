package btp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interledger/ilp-gateway/internal/pipeline"
)

// authProtocolName is the protocol-data entry a connection's first message
// carries to authenticate it, mirroring the octet-stream bearer-token
// convention the HTTP transport uses.
const authProtocolName = "auth_token"

var (
	ErrAuthRejected = errors.New("btp: auth token rejected")
	ErrConnClosed   = errors.New("btp: connection closed")
)

// pendingCall is a request awaiting its correlated Response/Error frame.
type pendingCall struct {
	resp chan Frame
}

// Conn wraps one authenticated BTP WebSocket connection (either side),
// correlating outbound Message frames with their Response by request_id.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	closed  bool

	// pendingAuthRequestID is the request_id of the auth frame readAuth
	// last saw, so ackAuth replies on the matching correlation id.
	pendingAuthRequestID uint32

	// OnPrepare, if set, is invoked for every inbound Message frame
	// carrying an "ilp" Prepare; its return is written back as that
	// request_id's Response. Only the accepting (server) side sets this.
	OnPrepare func(ctx context.Context, raw []byte) *pipeline.Result
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, pending: make(map[uint32]*pendingCall)}
	return c
}

// ReadLoop consumes frames off the socket until it closes or ctx is done.
// Must run in its own goroutine for every Conn (both dial and accept side).
func (c *Conn) ReadLoop(ctx context.Context) {
	defer c.closeLocked()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := Decode(data)
		if err != nil {
			continue
		}
		switch f.Type {
		case TypeResponse, TypeError:
			c.deliver(f)
		case TypeMessage:
			c.handleInbound(ctx, f)
		}
	}
}

func (c *Conn) deliver(f Frame) {
	c.mu.Lock()
	call, ok := c.pending[f.RequestID]
	if ok {
		delete(c.pending, f.RequestID)
	}
	c.mu.Unlock()
	if ok {
		call.resp <- f
	}
}

func (c *Conn) handleInbound(ctx context.Context, f Frame) {
	raw, ok := findILP(f.ProtocolData)
	if !ok || c.OnPrepare == nil {
		c.writeFrame(Frame{Type: TypeError, RequestID: f.RequestID})
		return
	}
	res := c.OnPrepare(ctx, raw)
	respType := TypeResponse
	var body []byte
	switch {
	case res.IsFulfill():
		body = res.Fulfill.Serialize()
	case res.Reject != nil:
		body = res.Reject.Serialize()
	default:
		respType = TypeError
	}
	c.writeFrame(Frame{Type: respType, RequestID: f.RequestID, ProtocolData: ilpProtocolData(body)})
}

// Call sends raw as an "ilp" Message frame and blocks for its Response,
// returning the response frame's ilp payload.
func (c *Conn) Call(ctx context.Context, raw []byte) ([]byte, error) {
	id := c.nextID.Add(1)
	call := &pendingCall{resp: make(chan Frame, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.pending[id] = call
	c.mu.Unlock()

	if err := c.writeFrame(Frame{Type: TypeMessage, RequestID: id, ProtocolData: ilpProtocolData(raw)}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case f := <-call.resp:
		if f.Type == TypeError {
			return nil, errors.New("btp: peer returned error frame")
		}
		body, _ := findILP(f.ProtocolData)
		return body, nil
	}
}

// sendAuth writes the connection's auth frame and waits for acknowledgment
// (a Response with the same request_id, empty of error).
func (c *Conn) sendAuth(ctx context.Context, token string) error {
	id := c.nextID.Add(1)
	call := &pendingCall{resp: make(chan Frame, 1)}
	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()

	frame := Frame{
		Type:      TypeMessage,
		RequestID: id,
		ProtocolData: []ProtocolDataEntry{
			{ProtocolName: authProtocolName, ContentType: ContentTypeTextUTF8, Data: []byte(token)},
		},
	}
	if err := c.writeFrame(frame); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f := <-call.resp:
		if f.Type == TypeError {
			return ErrAuthRejected
		}
		return nil
	}
}

// readAuth is the accept-side counterpart: block for the first Message
// frame and return its claimed token, acking or nacking by request_id.
func (c *Conn) readAuth(deadline time.Duration) (token string, err error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	_ = c.ws.SetReadDeadline(time.Time{})

	f, err := Decode(data)
	if err != nil || f.Type != TypeMessage {
		return "", errors.New("btp: expected auth message")
	}
	for _, e := range f.ProtocolData {
		if e.ProtocolName == authProtocolName {
			token = string(e.Data)
		}
	}
	c.pendingAuthRequestID = f.RequestID
	return token, nil
}

func (c *Conn) ackAuth(ok bool) error {
	typ := TypeResponse
	if !ok {
		typ = TypeError
	}
	return c.writeFrame(Frame{Type: typ, RequestID: c.pendingAuthRequestID})
}

func (c *Conn) writeFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, Encode(f))
}

func (c *Conn) closeLocked() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, call := range pending {
		close(call.resp)
	}
	_ = c.ws.Close()
}

// Close shuts down the underlying socket and fails any in-flight calls.
func (c *Conn) Close() error {
	c.closeLocked()
	return nil
}
