// server/internal/socket/hub.go
package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Tên sự kiện gửi xuống mini app.
const (
	EventOrderDecided   = "order_decided"
	EventOrderSynced    = "order_synced"
	EventSyncFailed     = "sync_failed"
	EventSyncAbandoned  = "sync_abandoned"
	EventOrderConflict  = "order_conflict"
	EventOrdersReloaded = "orders_reloaded"
)

// Event là thông báo JSON gửi cho một NCC.
type Event struct {
	Event   string    `json:"event"`
	OrderID string    `json:"orderId,omitempty"`
	Status  string    `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier là phần Hub mà các thành phần nghiệp vụ cần.
type Notifier interface {
	Notify(supplierCode string, ev Event)
}

// Hub quản lý các kết nối WebSocket, mỗi NCC (theo mã NCC) một kết nối.
type Hub struct {
	// mu chỉ bảo vệ map clients; việc ghi khóa theo từng kết nối.
	clients map[string]*client
	mu      sync.Mutex
	log     logrus.FieldLogger
}

type client struct {
	conn *websocket.Conn
	// gorilla/websocket không cho ghi đồng thời trên một kết nối.
	mu sync.Mutex
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		log:     log.WithField("component", "socket"),
	}
}

// Register thêm kết nối mới, đóng kết nối cũ của cùng NCC nếu có.
func (h *Hub) Register(supplierCode string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[supplierCode]; ok && old.conn != conn {
		old.conn.Close()
	}
	h.clients[supplierCode] = &client{conn: conn}
	h.log.WithField("supplier_code", supplierCode).Info("WebSocket client registered")
}

// Unregister chỉ xóa khi conn vẫn là kết nối hiện tại của NCC.
func (h *Hub) Unregister(supplierCode string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[supplierCode]; ok && current.conn == conn {
		delete(h.clients, supplierCode)
		h.log.WithField("supplier_code", supplierCode).Info("WebSocket client unregistered")
	}
}

// Send gửi tin nhắn đến một NCC. NCC đang offline không phải là lỗi.
// Kết nối chậm chỉ giữ chân các lần gửi cho chính NCC đó.
func (h *Hub) Send(supplierCode string, message []byte) error {
	h.mu.Lock()
	c, ok := h.clients[supplierCode]
	h.mu.Unlock()
	if !ok {
		h.log.WithField("supplier_code", supplierCode).Debug("WebSocket client not found, message dropped")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Notify mã hóa và gửi sự kiện; lỗi chỉ được log.
func (h *Hub) Notify(supplierCode string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode websocket event")
		return
	}
	if err := h.Send(supplierCode, payload); err != nil {
		h.log.WithError(err).WithField("supplier_code", supplierCode).Warn("Failed to push websocket event")
	}
}

// Connected cho biết NCC có đang mở kết nối không.
func (h *Hub) Connected(supplierCode string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[supplierCode]
	return ok
}
