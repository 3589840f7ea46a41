package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rentdesk/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64

	// AuthSubprotocol 浏览器无法设置 Authorization 头时，通过 Sec-WebSocket-Protocol: bearer, <token> 传 token
	AuthSubprotocol = "bearer"

	requestRefresh = "request:refresh"
)

var ErrHubClosed = errors.New("realtime hub closed")

// Client 一个 websocket 连接
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity domain.Identity
	rooms    []string
}

type directMessage struct {
	client  *Client
	payload []byte
}

type roomMessage struct {
	rooms   []string
	payload []byte
}

// Hub 按房间投递事件；所有 map 只在 Run 协程内修改
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan roomMessage
	direct     chan directMessage
	done       chan struct{}
	logger     *zap.Logger

	mu    sync.RWMutex
	count int
}

// NewHub allowedOrigins 为空时不校验 Origin
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan roomMessage, 256),
		direct:     make(chan directMessage, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{AuthSubprotocol},
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run 事件循环，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.remove(c)
		}
		h.logger.Info("Realtime hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			for _, room := range c.rooms {
				members, ok := h.rooms[room]
				if !ok {
					members = make(map[*Client]struct{})
					h.rooms[room] = members
				}
				members[c] = struct{}{}
			}
			h.setCount(len(h.clients))
			h.logger.Debug("Realtime client registered",
				zap.String("user_id", c.identity.UserID),
				zap.Strings("rooms", c.rooms),
			)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.setCount(len(h.clients))
			}

		case msg := <-h.broadcast:
			// 同一连接可能在多个房间里，只投递一次
			seen := make(map[*Client]struct{})
			for _, room := range msg.rooms {
				for c := range h.rooms[room] {
					if _, dup := seen[c]; dup {
						continue
					}
					seen[c] = struct{}{}
					h.deliver(c, msg.payload)
				}
			}

		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.deliver(msg.client, msg.payload)
			}
		}
	}
}

// deliver 发送缓冲满的慢连接直接断开
func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("Dropping slow realtime client", zap.String("user_id", c.identity.UserID))
		h.remove(c)
		h.setCount(len(h.clients))
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	for _, room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(c.send)
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish 投递到本实例的房间
func (h *Hub) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- roomMessage{rooms: evt.Rooms, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS 升级连接并按身份加入房间；调用方负责鉴权
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}

	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		identity: id,
		rooms:    domain.RoomsForIdentity(id),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type clientMessage struct {
	Event string `json:"event"`
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Unexpected websocket close", zap.String("user_id", c.identity.UserID), zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event != requestRefresh {
			continue
		}
		payload, err := json.Marshal(domain.Event{
			Name:  domain.EventDashboardRefresh,
			Rooms: c.rooms,
			At:    time.Now().UTC(),
		})
		if err != nil {
			continue
		}
		select {
		case c.hub.direct <- directMessage{client: c, payload: payload}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
