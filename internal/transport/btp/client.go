package btp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// AuthTimeout bounds how long a dial waits for the peer to ack the auth
// frame before giving up.
const AuthTimeout = 10 * time.Second

// Dialer maintains one persistent, authenticated Conn per peer account,
// dialing lazily on first use and implementing pipeline.Transport.
type Dialer struct {
	DialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewDialer builds a Dialer with a reasonable connect timeout.
func NewDialer() *Dialer {
	return &Dialer{DialTimeout: 10 * time.Second, conns: make(map[string]*Conn)}
}

var _ pipeline.Transport = (*Dialer)(nil)

var ilpZeroAddress = ilpaddr.Address{}

func mustReject(code [3]byte, message string) *ilppacket.Reject {
	r, err := ilppacket.NewReject(code, ilpZeroAddress, message, nil)
	if err != nil {
		r, _ = ilppacket.NewReject(code, ilpZeroAddress, "", nil)
	}
	return r
}

// SendPrepare delivers p to to over a BTP connection, dialing and
// authenticating one lazily if none is cached yet.
func (d *Dialer) SendPrepare(ctx context.Context, to *store.Account, p *ilppacket.Prepare) *pipeline.Result {
	if to.BTPEndpointURL == "" {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "peer has no btp endpoint configured"))
	}

	conn, err := d.connFor(ctx, to)
	if err != nil {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "btp dial failed: "+err.Error()))
	}

	body, err := conn.Call(ctx, p.Serialize())
	if err != nil {
		d.drop(to.Username)
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "btp call failed: "+err.Error()))
	}

	parsed, err := ilppacket.Parse(body, true)
	if err != nil {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "malformed btp response: "+err.Error()))
	}
	switch v := parsed.(type) {
	case *ilppacket.Fulfill:
		return pipeline.FulfillResult(v)
	case *ilppacket.Reject:
		return pipeline.RejectResult(v)
	default:
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "peer returned unexpected packet type"))
	}
}

func (d *Dialer) connFor(ctx context.Context, to *store.Account) (*Conn, error) {
	d.mu.Lock()
	if c, ok := d.conns[to.Username]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, d.DialTimeout)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, to.BTPEndpointURL, nil)
	if err != nil {
		return nil, err
	}
	conn := newConn(ws)

	authCtx, cancel2 := context.WithTimeout(ctx, AuthTimeout)
	defer cancel2()
	token := ""
	if !to.OutgoingToken.IsZero() {
		token = string(to.OutgoingToken.Reveal())
	}

	go conn.ReadLoop(context.Background())
	if err := conn.sendAuth(authCtx, token); err != nil {
		_ = conn.Close()
		return nil, errors.New("btp: auth failed: " + err.Error())
	}

	d.mu.Lock()
	d.conns[to.Username] = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *Dialer) drop(username string) {
	d.mu.Lock()
	conn, ok := d.conns[username]
	if ok {
		delete(d.conns, username)
	}
	d.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Close tears down every cached connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	conns := d.conns
	d.conns = make(map[string]*Conn)
	d.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}
