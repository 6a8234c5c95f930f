// server/internal/models/draft_order.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UrgentTypeUrgent là giá trị crdfd_urgent_type của đơn gấp.
const UrgentTypeUrgent = 1

// DraftOrder là một dòng kế hoạch hàng về (crdfd_kehoachhangve_drafts) chờ NCC xử lý.
type DraftOrder struct {
	ID                   string          `json:"crdfd_kehoachhangve_draftid"`
	ProductName          string          `json:"cr1bb_tensanpham"`
	Unit                 string          `json:"cr1bb_onvical"`
	Quantity             int             `json:"crdfd_soluong"`
	UnitPrice            decimal.Decimal `json:"crdfd_gia"`
	ExpectedDeliveryDate *Date           `json:"cr1bb_ngaygiaodukien,omitempty"`
	SupplierCode         string          `json:"crdfd_mancc"`
	PurchasingAgent      string          `json:"crdfd_nhanvienmuahang"`
	CreatedOn            time.Time       `json:"createdon"`
	UrgentType           *int            `json:"crdfd_urgent_type,omitempty"`
	ImageURL             string          `json:"cr1bb_image_url,omitempty"`

	// Các trường quyết định, chỉ có sau khi NCC xác nhận/từ chối.
	DecisionStatus        *Status    `json:"crdfd_ncc_nhan_don,omitempty"`
	DecidedAt             *time.Time `json:"crdfd_ngay_xac_nhan_ncc,omitempty"`
	ConfirmedQuantity     *int       `json:"crdfd_xac_nhan_so_luong_ncc,omitempty"`
	ConfirmedDeliveryDate *Date      `json:"crdfd_xac_nhan_ngay_giao_ncc,omitempty"`
	SupplierNote          string     `json:"crdfd_ghi_chu_ncc,omitempty"`
}

// Status trả về trạng thái hiện tại; chưa có quyết định được coi là pending.
func (o DraftOrder) Status() Status {
	if o.DecisionStatus == nil {
		return StatusPending
	}
	return *o.DecisionStatus
}

func (o DraftOrder) IsPending() bool {
	return o.Status() == StatusPending
}

func (o DraftOrder) IsUrgent() bool {
	return o.UrgentType != nil && *o.UrgentType == UrgentTypeUrgent
}

// LineTotal = đơn giá * số lượng ban đầu.
func (o DraftOrder) LineTotal() decimal.Decimal {
	return o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
}
