package validation

import "fmt"

// Code là lớp lỗi kiểm tra dữ liệu, giữ nguyên giá trị để mini app hiển thị theo mã.
type Code string

const (
	CodeInvalidQuantity         Code = "invalid_quantity"
	CodeQuantityExceedsOriginal Code = "quantity_exceeds_original"
	CodeQuantityTooLarge        Code = "quantity_too_large"
	CodeDeliveryDateInPast      Code = "delivery_date_in_past"
	CodeDeliveryDateTooFar      Code = "delivery_date_too_far"
	CodeReasonRequired          Code = "reason_required"
)

// Field là ô nhập gây ra lỗi.
type Field string

const (
	FieldQuantity     Field = "quantity"
	FieldDeliveryDate Field = "deliveryDate"
	FieldReason       Field = "reason"
)

// Error là lỗi kiểm tra phía client, luôn chặn thao tác trước khi gọi mạng.
type Error struct {
	Code    Code   `json:"code"`
	Field   Field  `json:"field"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("validation %s (order %s): %s", e.Code, e.OrderID, e.Message)
	}
	return fmt.Sprintf("validation %s: %s", e.Code, e.Message)
}

// ForOrder gắn id đơn hàng vào lỗi.
func (e *Error) ForOrder(id string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.OrderID = id
	return &cp
}

func newError(code Code, field Field, format string, args ...any) *Error {
	return &Error{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
