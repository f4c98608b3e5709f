// Package notify fans committed booking events out to connected dashboards
// and to other services.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"homestyle/internal/events"
	"homestyle/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// SubscribeCheck reports whether userID may follow bookingID.
type SubscribeCheck func(ctx context.Context, bookingID, userID int64) bool

// Client is one WebSocket connection of a user.
type Client struct {
	ID     string
	UserID int64

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

type subscription struct {
	client    *Client
	bookingID int64
}

type delivery struct {
	bookingID int64
	userIDs   []int64
	payload   []byte
}

type inbound struct {
	Type      string `json:"type"`
	BookingID int64  `json:"bookingId"`
}

// Hub routes events to the connections of a booking's parties and of users
// that subscribed to it. All routing state is owned by Run.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan delivery
	stats      chan chan Stats
	done       chan struct{}

	byUser    map[int64]map[*Client]bool
	byBooking map[int64]map[*Client]bool
	following map[*Client]map[int64]bool

	upgrader websocket.Upgrader
	check    SubscribeCheck
	logger   zerolog.Logger
}

// NewHub creates a hub. check may be nil, in which case explicit
// subscriptions are refused.
func NewHub(allowedOrigins []string, check SubscribeCheck, logger *zerolog.Logger) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan delivery, 64),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
		byUser:     make(map[int64]map[*Client]bool),
		byBooking:  make(map[int64]map[*Client]bool),
		following:  make(map[*Client]map[int64]bool),
		check:      check,
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run processes registrations and deliveries until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.following {
				h.drop(c)
			}
			return

		case c := <-h.register:
			if h.byUser[c.UserID] == nil {
				h.byUser[c.UserID] = make(map[*Client]bool)
			}
			h.byUser[c.UserID][c] = true
			h.following[c] = make(map[int64]bool)
			metrics.SetWSConnections(len(h.following))
			h.logger.Debug().Str("conn_id", c.ID).Int64("user_id", c.UserID).Msg("client registered")

		case c := <-h.unregister:
			if _, ok := h.following[c]; ok {
				h.drop(c)
				h.logger.Debug().Str("conn_id", c.ID).Int64("user_id", c.UserID).Msg("client unregistered")
			}

		case s := <-h.subscribe:
			follows, ok := h.following[s.client]
			if !ok {
				continue
			}
			follows[s.bookingID] = true
			if h.byBooking[s.bookingID] == nil {
				h.byBooking[s.bookingID] = make(map[*Client]bool)
			}
			h.byBooking[s.bookingID][s.client] = true

		case d := <-h.broadcast:
			h.deliver(d)

		case reply := <-h.stats:
			n := 0
			for _, clients := range h.byBooking {
				n += len(clients)
			}
			reply <- Stats{Connections: len(h.following), Subscriptions: n}
		}
	}
}

// Stats is a snapshot of the hub's routing tables.
type Stats struct {
	Connections   int
	Subscriptions int
}

// Stats returns the current number of connections and booking subscriptions.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
		return <-reply
	case <-h.done:
		return Stats{}
	}
}

func (h *Hub) deliver(d delivery) {
	targets := make(map[*Client]bool)
	for _, userID := range d.userIDs {
		for c := range h.byUser[userID] {
			targets[c] = true
		}
	}
	for c := range h.byBooking[d.bookingID] {
		targets[c] = true
	}

	for c := range targets {
		select {
		case c.send <- d.payload:
		default:
			h.logger.Warn().Str("conn_id", c.ID).Int64("user_id", c.UserID).Msg("client too slow, dropping connection")
			h.drop(c)
		}
	}
}

// drop forgets c and closes its send channel, which ends its write pump.
func (h *Hub) drop(c *Client) {
	for bookingID := range h.following[c] {
		delete(h.byBooking[bookingID], c)
		if len(h.byBooking[bookingID]) == 0 {
			delete(h.byBooking, bookingID)
		}
	}
	delete(h.following, c)

	delete(h.byUser[c.UserID], c)
	if len(h.byUser[c.UserID]) == 0 {
		delete(h.byUser, c.UserID)
	}
	close(c.send)
	metrics.SetWSConnections(len(h.following))
}

// HandleEvent is an events.EventHandler that queues ev for delivery to the
// booking's client and stylist and to its subscribers.
func (h *Hub) HandleEvent(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{Type: ev.Type, Data: ev.Booking})
	if err != nil {
		return err
	}

	d := delivery{
		bookingID: ev.Booking.ID,
		userIDs:   []int64{ev.Booking.ClientID, ev.Booking.StylistID},
		payload:   payload,
	}
	select {
	case h.broadcast <- d:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades the request and attaches the connection to userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(context.WithoutCancel(r.Context()))
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("conn_id", c.ID).Msg("websocket read failed")
			}
			return
		}
		if msg.Type != "subscribe" || msg.BookingID <= 0 {
			continue
		}
		if c.hub.check == nil || !c.hub.check(ctx, msg.BookingID, c.UserID) {
			c.hub.logger.Debug().Str("conn_id", c.ID).Int64("booking_id", msg.BookingID).Msg("subscription refused")
			continue
		}
		select {
		case c.hub.subscribe <- subscription{client: c, bookingID: msg.BookingID}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
