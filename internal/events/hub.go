package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Hub рассылает события всем подключённым websocket-клиентам.
// Медленный клиент, у которого переполнен буфер, отключается.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*client]struct{}
	done    chan struct{}
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub создаёт Hub. checkOrigin может быть nil, тогда проверяется совпадение Origin и Host.
func NewHub(log *slog.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log: log.With(slog.String("component", "events.hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run обслуживает регистрацию клиентов и рассылку до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.log.Info("hub stopped")
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client registered", slog.String("client_id", c.id), slog.Int("total_clients", count))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("dropping slow client", slog.String("client_id", c.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount возвращает число подключённых клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify реализует Notifier. Если очередь рассылки заполнена, событие отбрасывается.
func (h *Hub) Notify(_ context.Context, event models.LicenseEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", sl.Err(err))
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warn("broadcast queue full, event dropped", slog.String("type", string(event.Type)))
	}
}

// ServeWS переводит соединение в websocket и подписывает его на события.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{id: uuid.NewString(), hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return nil
	}
	go c.writePump()
	go c.readPump()
	return nil
}

// readPump читает только управляющие кадры; входящие сообщения игнорируются.
func (c *client) readPump() {
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected websocket close", slog.String("client_id", c.id), sl.Err(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
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
