// server/internal/api/handlers/order_handler.go
package handlers

import (
	"net/http"
	"time"

	"wecare-supplier-api-server/internal/api/middleware"
	"wecare-supplier-api-server/internal/models"
	"wecare-supplier-api-server/internal/orders"
	"wecare-supplier-api-server/internal/socket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type OrderHandler struct {
	Registry *orders.Registry
	Workflow *orders.Workflow
	Notifier socket.Notifier
	Log      logrus.FieldLogger
	// Clock mặc định là time.Now, test ghi đè để cố định thời điểm.
	Clock func() time.Time
}

type ListOrdersQuery struct {
	Tab string `form:"tab" binding:"omitempty,oneof=pending all urgent"`
}

// UpdateBufferRequest chỉ cập nhật các trường được gửi lên.
type UpdateBufferRequest struct {
	Quantity     *string      `json:"quantity"`
	DeliveryDate *models.Date `json:"deliveryDate"`
	Reason       *string      `json:"reason"`
}

type RejectOrderRequest struct {
	Reason string `json:"reason"`
}

type GroupDecisionRequest struct {
	OrderIDs []string `json:"orderIds" binding:"required,min=1"`
	Reason   string   `json:"reason"`
}

func (h *OrderHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h *OrderHandler) book(c *gin.Context) (*orders.Book, bool) {
	book, err := h.Registry.Load(c.Request.Context(), middleware.SupplierCode(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return book, true
}

// GetDashboard trả số liệu tổng quan và danh sách đơn gấp.
func (h *OrderHandler) GetDashboard(c *gin.Context) {
	book, ok := h.book(c)
	if !ok {
		return
	}
	now := h.now()
	c.JSON(http.StatusOK, gin.H{
		"stats":     book.Stats(now),
		"urgent":    book.Urgent(now),
		"conflicts": book.Conflicts(),
	})
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	var q ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}
	book, ok := h.book(c)
	if !ok {
		return
	}

	now := h.now()
	var views []orders.OrderView
	switch q.Tab {
	case "all":
		views = book.All(now)
	case "urgent":
		views = book.Urgent(now)
	default:
		views = book.Pending(now)
	}
	c.JSON(http.StatusOK, gin.H{"orders": views, "count": len(views)})
}

func (h *OrderHandler) GetHistory(c *gin.Context) {
	book, ok := h.book(c)
	if !ok {
		return
	}
	views := book.History(h.now())
	c.JSON(http.StatusOK, gin.H{"orders": views, "count": len(views)})
}

func (h *OrderHandler) GetGroups(c *gin.Context) {
	book, ok := h.book(c)
	if !ok {
		return
	}
	groups := book.Groups(h.now())
	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	book, ok := h.book(c)
	if !ok {
		return
	}
	view, err := book.Get(c.Param("id"), h.now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ReloadOrders đọc lại đơn nháp từ CRM (kéo để làm mới trên mini app).
func (h *OrderHandler) ReloadOrders(c *gin.Context) {
	code := middleware.SupplierCode(c)
	book, err := h.Registry.Reload(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	now := h.now()
	h.Notifier.Notify(code, socket.Event{Event: socket.EventOrdersReloaded, At: now})
	c.JSON(http.StatusOK, gin.H{
		"message": "Đã tải lại danh sách đơn hàng",
		"stats":   book.Stats(now),
	})
}

// UpdateBuffer lưu giá trị NCC đang nhập; lỗi kiểm tra nằm trong bộ đệm trả về.
func (h *OrderHandler) UpdateBuffer(c *gin.Context) {
	var req UpdateBufferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	book, ok := h.book(c)
	if !ok {
		return
	}

	id := c.Param("id")
	var (
		buf models.EditBuffer
		err error
	)
	if req.Quantity != nil {
		if buf, err = book.SetQuantity(id, *req.Quantity); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.DeliveryDate != nil {
		if buf, err = book.SetDeliveryDate(id, *req.DeliveryDate, h.now()); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.Reason != nil {
		if buf, err = book.SetReason(id, *req.Reason); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.Quantity == nil && req.DeliveryDate == nil && req.Reason == nil {
		if _, err := book.Get(id, h.now()); err != nil {
			respondError(c, err)
			return
		}
		buf, _ = book.Buffer(id)
		buf.OrderID = id
	}

	c.JSON(http.StatusOK, gin.H{"buffer": buf, "valid": !buf.HasErrors()})
}

func (h *OrderHandler) DiscardBuffer(c *gin.Context) {
	book, ok := h.book(c)
	if !ok {
		return
	}
	book.Discard(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) ConfirmOrder(c *gin.Context) {
	result, err := h.Workflow.Confirm(c.Request.Context(), middleware.SupplierCode(c), []string{c.Param("id")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RejectOrder nhận lý do trong body; body trống thì dùng lý do trong bộ đệm.
func (h *OrderHandler) RejectOrder(c *gin.Context) {
	var req RejectOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}
	result, err := h.Workflow.Reject(c.Request.Context(), middleware.SupplierCode(c), []string{c.Param("id")}, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) ConfirmGroup(c *gin.Context) {
	var req GroupDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	result, err := h.Workflow.Confirm(c.Request.Context(), middleware.SupplierCode(c), req.OrderIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) RejectGroup(c *gin.Context) {
	var req GroupDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	result, err := h.Workflow.Reject(c.Request.Context(), middleware.SupplierCode(c), req.OrderIDs, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
