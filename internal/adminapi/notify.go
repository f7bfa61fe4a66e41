package adminapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PaymentNotification is pushed to every subscriber of an account's incoming
// stream.
type PaymentNotification struct {
	Username   string    `json:"username"`
	Amount     uint64    `json:"amount"`
	ReceivedAt time.Time `json:"received_at"`
}

// NotificationHub fans incoming-payment events out to whichever WebSocket
// connections are currently subscribed to that account. A username with no
// subscribers simply drops its events; nothing buffers past connections.
type NotificationHub struct {
	mu   sync.Mutex
	subs map[string]map[chan PaymentNotification]struct{}
}

// NewNotificationHub builds an empty hub.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{subs: make(map[string]map[chan PaymentNotification]struct{})}
}

// Subscribe registers a new channel for username's events; call the
// returned func to unsubscribe and release it.
func (h *NotificationHub) Subscribe(username string) (ch chan PaymentNotification, unsubscribe func()) {
	ch = make(chan PaymentNotification, 16)
	h.mu.Lock()
	set, ok := h.subs[username]
	if !ok {
		set = make(map[chan PaymentNotification]struct{})
		h.subs[username] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs[username], ch)
		if len(h.subs[username]) == 0 {
			delete(h.subs, username)
		}
		h.mu.Unlock()
		close(ch)
	}
}

// Publish fans out a notification to every current subscriber of username,
// dropping it for any subscriber whose channel is full rather than blocking
// the payment path on a slow reader.
func (h *NotificationHub) Publish(username string, amount uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := PaymentNotification{Username: username, Amount: amount, ReceivedAt: time.Now()}
	for ch := range h.subs[username] {
		select {
		case ch <- n:
		default:
		}
	}
}

var notifyUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// incomingPayments upgrades to a WebSocket and streams PaymentNotification
// JSON objects for username until the client disconnects.
func (h *Handler) incomingPayments(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	auth, err := h.authenticate(r)
	if err != nil || !auth.canAccess(username) {
		writeError(w, http.StatusUnauthorized, "not authorized for this account")
		return
	}

	ws, err := notifyUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ch, unsubscribe := h.hub.Subscribe(username)
	defer unsubscribe()

	for n := range ch {
		if err := ws.WriteJSON(n); err != nil {
			return
		}
	}
}
