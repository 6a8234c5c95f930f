package crm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wecare-supplier-api-server/internal/models"
)

const draftSet = "crdfd_kehoachhangve_drafts"

// crdfd_trang_thai của kế hoạch hàng về đang mở.
const draftOpenState = 191920000

var draftSelect = []string{
	"crdfd_kehoachhangve_draftid",
	"cr1bb_tensanpham",
	"cr1bb_onvical",
	"crdfd_soluong",
	"crdfd_gia",
	"cr1bb_ngaygiaodukien",
	"crdfd_mancc",
	"crdfd_nhanvienmuahang",
	"createdon",
	"crdfd_urgent_type",
	"crdfd_ncc_nhan_don",
	"crdfd_ngay_xac_nhan_ncc",
	"crdfd_xac_nhan_so_luong_ncc",
	"crdfd_xac_nhan_ngay_giao_ncc",
	"crdfd_ghi_chu_ncc",
}

// GetDraftOrders trả về các đơn nháp đang mở chờ NCC xác nhận, mới nhất trước.
func (c *Client) GetDraftOrders(ctx context.Context, supplierCode string) ([]models.DraftOrder, error) {
	q := &query{
		Select:  draftSelect,
		Top:     c.pendingTop,
		Filter:  fmt.Sprintf("statecode eq 0 and crdfd_trang_thai eq %d and crdfd_mancc eq %s", draftOpenState, quote(supplierCode)),
		OrderBy: "createdon desc",
	}
	return c.listDrafts(ctx, "get draft orders", q)
}

// GetAllDraftOrders trả về mọi đơn nháp còn hiệu lực của NCC, kể cả đã xử lý.
func (c *Client) GetAllDraftOrders(ctx context.Context, supplierCode string) ([]models.DraftOrder, error) {
	q := &query{
		Select:  draftSelect,
		Top:     c.allTop,
		Filter:  "statecode eq 0 and crdfd_mancc eq " + quote(supplierCode),
		OrderBy: "createdon desc",
	}
	return c.listDrafts(ctx, "get all draft orders", q)
}

func (c *Client) listDrafts(ctx context.Context, op string, q *query) ([]models.DraftOrder, error) {
	var page struct {
		Value []models.DraftOrder `json:"value"`
	}
	if err := c.do(ctx, op, http.MethodGet, draftSet, q, nil, &page); err != nil {
		return nil, err
	}
	if page.Value == nil {
		return []models.DraftOrder{}, nil
	}
	return page.Value, nil
}

// StatusUpdate là một lần ghi quyết định của NCC lên đơn nháp.
type StatusUpdate struct {
	OrderID           string        `json:"orderId" bson:"orderId"`
	Status            models.Status `json:"status" bson:"status"`
	ConfirmedQuantity *int          `json:"confirmedQuantity,omitempty" bson:"confirmedQuantity,omitempty"`
	OriginalQuantity  *int          `json:"originalQuantity,omitempty" bson:"originalQuantity,omitempty"`
	Notes             string        `json:"notes,omitempty" bson:"notes,omitempty"`
	DeliveryDate      *models.Date  `json:"deliveryDate,omitempty" bson:"deliveryDate,omitempty"`
}

// statusPatch là lần ghi đầu tiên: trạng thái và thời điểm quyết định.
func (u StatusUpdate) statusPatch(now time.Time) map[string]any {
	body := map[string]any{"crdfd_ncc_nhan_don": int(u.Status)}
	if u.Status.IsTerminal() {
		body["crdfd_ngay_xac_nhan_ncc"] = now.UTC().Format(time.RFC3339)
	}
	return body
}

// annotationPatch là lần ghi thứ hai; rỗng thì không gửi.
func (u StatusUpdate) annotationPatch() map[string]any {
	body := map[string]any{}
	if notes := strings.TrimSpace(u.Notes); notes != "" {
		body["crdfd_ghi_chu_ncc"] = notes
	}
	if u.ConfirmedQuantity != nil && u.OriginalQuantity != nil {
		body["crdfd_xac_nhan_so_luong_ncc"] = *u.ConfirmedQuantity
	}
	if u.DeliveryDate != nil && !u.DeliveryDate.IsZero() {
		body["crdfd_xac_nhan_ngay_giao_ncc"] = u.DeliveryDate.String()
	}
	return body
}

// UpdateDraftOrderStatus ghi trạng thái trước, sau đó mới ghi ghi chú/số lượng/ngày giao.
// Lỗi ở lần ghi thứ hai chỉ được log vì trạng thái đã lưu thành công.
func (c *Client) UpdateDraftOrderStatus(ctx context.Context, u StatusUpdate) error {
	path, err := entityPath(draftSet, u.OrderID)
	if err != nil {
		return err
	}
	log := c.log.WithFields(logrus.Fields{"order_id": u.OrderID, "status": u.Status.String()})

	if err := c.do(ctx, "update draft order", http.MethodPatch, path, nil, u.statusPatch(c.now()), nil); err != nil {
		return err
	}

	extra := u.annotationPatch()
	if len(extra) == 0 {
		return nil
	}
	if err := c.do(ctx, "update draft order details", http.MethodPatch, path, nil, extra, nil); err != nil {
		log.WithError(err).Warn("Draft order status saved but additional data failed")
		return nil
	}
	log.Debug("Additional data updated successfully")
	return nil
}
