package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wecare-supplier-api-server/internal/logger"
)

func TestHubNotify(t *testing.T) {
	hub := NewHub(logger.Discard())
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register("NCC01", conn)
		close(registered)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()
	<-registered
	assert.True(t, hub.Connected("NCC01"))

	hub.Notify("NCC01", Event{Event: EventOrderSynced, OrderID: "o-1", Status: "confirmed"})
	// NCC không kết nối: bỏ qua, không lỗi.
	hub.Notify("NCC02", Event{Event: EventOrderSynced})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, EventOrderSynced, ev.Event)
	assert.Equal(t, "o-1", ev.OrderID)
	assert.Equal(t, "confirmed", ev.Status)
	assert.False(t, ev.At.IsZero())
}

func TestHubUnregisterKeepsNewerConnection(t *testing.T) {
	hub := NewHub(logger.Discard())
	// Unregister với kết nối không khớp không được xóa.
	hub.clients["NCC01"] = &client{conn: &websocket.Conn{}}
	hub.Unregister("NCC01", nil)
	assert.True(t, hub.Connected("NCC01"))
}

// dial mở một kết nối thật tới hub cho supplierCode.
func dial(t *testing.T, hub *Hub, supplierCode string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(supplierCode, conn)
		close(registered)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	<-registered
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestHubSlowClientDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(logger.Discard())
	fast := dial(t, hub, "NCC01")
	slow := dial(t, hub, "NCC02")

	// Giả lập một lần ghi đang kẹt trên kết nối của NCC02.
	hub.mu.Lock()
	stalled := hub.clients["NCC02"]
	hub.mu.Unlock()
	stalled.mu.Lock()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		hub.Notify("NCC02", Event{Event: EventOrderSynced, OrderID: "o-2"})
	}()

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		hub.Notify("NCC01", Event{Event: EventOrderSynced, OrderID: "o-1"})
	}()
	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("notify for NCC01 blocked behind NCC02")
	}
	assert.Equal(t, "o-1", readEvent(t, fast).OrderID)
	assert.True(t, hub.Connected("NCC02"))

	stalled.mu.Unlock()
	<-slowDone
	assert.Equal(t, "o-2", readEvent(t, slow).OrderID)
}
