// server/internal/api/handlers/websocket_handler.go
package handlers

import (
	"net/http"
	"time"

	"wecare-supplier-api-server/internal/auth"
	"wecare-supplier-api-server/internal/socket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Thời gian chờ tối đa cho một tin nhắn từ client.
	pongWait  = 30 * time.Second
	writeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mini app chạy trong webview của Zalo, origin không cố định.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	Hub    *socket.Hub
	Issuer *auth.Issuer
	Log    logrus.FieldLogger
}

// ServeWs xử lý các yêu cầu kết nối WebSocket. Token phiên gửi qua ?token=.
func (h *WebSocketHandler) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token is required"})
		return
	}

	claims, err := h.Issuer.Parse(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}
	supplierCode := claims.SupplierCode
	log := h.Log.WithField("supplier_code", supplierCode)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	h.Hub.Register(supplierCode, conn)
	defer func() {
		h.Hub.Unregister(supplierCode, conn)
		conn.Close()
	}()

	// Client gửi PING định kỳ; mỗi PING gia hạn deadline đọc.
	// Ghi đè ping handler thì phải tự trả PONG (WriteControl an toàn khi Hub đang ghi).
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// Vòng lặp đọc: chỉ để phát hiện client ngắt kết nối.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("Unexpected close error")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
