package models

// EditBuffer giữ các giá trị NCC đang sửa cho một đơn trước khi gửi.
// Chỉ tồn tại trong phiên làm việc, bị hủy khi gửi thành công.
type EditBuffer struct {
	OrderID      string `json:"orderId"`
	Quantity     string `json:"quantity,omitempty"`
	DeliveryDate *Date  `json:"deliveryDate,omitempty"`
	Reason       string `json:"reason,omitempty"`

	QuantityError     string `json:"quantityError,omitempty"`
	DeliveryDateError string `json:"deliveryDateError,omitempty"`
	ReasonError       string `json:"reasonError,omitempty"`
}

func (b EditBuffer) HasErrors() bool {
	return b.QuantityError != "" || b.DeliveryDateError != "" || b.ReasonError != ""
}
