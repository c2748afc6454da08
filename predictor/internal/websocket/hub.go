package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Hub рассылает выданные предсказания подписчикам live-ленты
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan models.PredictionEvent
	done       chan struct{}

	// Последнее предсказание по каждой модели, отдается при подключении
	last   map[string]models.PredictionEvent
	lastMu sync.RWMutex

	logger *zap.SugaredLogger
}

// Client - одно WebSocket соединение
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Фильтр по модели; пустая строка - все модели
	model string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.PredictionEvent, 256),
		done:       make(chan struct{}),
		last:       make(map[string]models.PredictionEvent),
		logger:     logger,
	}
}

// Run обслуживает регистрацию и рассылку до отмены контекста
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debugw("WebSocket client registered", "model", client.model)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debugw("WebSocket client unregistered", "model", client.model)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) fanOut(event models.PredictionEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorw("Failed to marshal prediction event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.model != "" && client.model != event.ModelUsed {
			continue
		}
		select {
		case client.send <- message:
		default:
			// Медленный клиент отключается
			delete(h.clients, client)
			close(client.send)
			h.logger.Warnw("WebSocket client too slow, dropped", "model", client.model)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast ставит событие в очередь рассылки, не блокируя вызывающего
func (h *Hub) Broadcast(event models.PredictionEvent) {
	h.lastMu.Lock()
	h.last[event.ModelUsed] = event
	h.lastMu.Unlock()

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping prediction event")
	}
}

// PredictionServed подключает ленту к сервису предсказаний
func (h *Hub) PredictionServed(ctx context.Context, e service.Event) {
	h.Broadcast(models.PredictionEvent{
		RequestID:      e.RequestID,
		ModelUsed:      e.Result.ModelUsed,
		PredictionCode: e.Result.PredictionCode,
		HealthStatus:   e.Result.HealthStatus,
		Confidence:     e.Result.Confidence,
		Timestamp:      e.Timestamp,
	})
}

// LastPrediction возвращает последнее событие по модели
func (h *Hub) LastPrediction(model string) (models.PredictionEvent, bool) {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	event, ok := h.last[model]
	return event, ok
}

// ClientCount - число подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket обрабатывает GET /ws/predictions?model=<name>
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		model: r.URL.Query().Get("model"),
	}

	if client.model != "" {
		if event, ok := h.LastPrediction(client.model); ok {
			if message, err := json.Marshal(event); err == nil {
				client.send <- message
			}
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump читает только управляющие кадры; клиент ничего не присылает
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warnw("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
