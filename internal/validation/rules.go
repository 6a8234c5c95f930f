// Package validation chứa các quy tắc kiểm tra số lượng, ngày giao và lý do từ chối
// trước khi xác nhận/từ chối đơn nháp.
package validation

import (
	"strconv"
	"strings"
	"time"

	"wecare-supplier-api-server/internal/models"
)

const (
	DefaultMaxQuantity = 999999
	DefaultMaxLeadDays = 30
)

// Policy liệt kê các quy tắc đang bật. CapToOriginal cấu hình được vì chưa rõ
// giao vượt số lượng có phải nghiệp vụ hợp lệ hay không.
type Policy struct {
	CapToOriginal bool
	MaxQuantity   int
	MaxLeadDays   int
	Location      *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		CapToOriginal: true,
		MaxQuantity:   DefaultMaxQuantity,
		MaxLeadDays:   DefaultMaxLeadDays,
		Location:      models.Location,
	}
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return models.Location
	}
	return p.Location
}

// ParseQuantity đọc số lượng NCC nhập. Chuỗi rỗng nghĩa là giữ số lượng gốc.
func ParseQuantity(raw string, original int, p Policy) (int, *Error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return original, ValidateQuantity(original, original, p)
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			if r == '-' || r == '.' || r == ',' {
				return 0, newError(CodeInvalidQuantity, FieldQuantity, "Số lượng phải là số nguyên không âm")
			}
			return 0, newError(CodeInvalidQuantity, FieldQuantity, "Số lượng không hợp lệ")
		}
	}
	q, err := strconv.Atoi(raw)
	if err != nil {
		// Chỉ toàn chữ số mà Atoi lỗi nghĩa là tràn số.
		return 0, newError(CodeQuantityTooLarge, FieldQuantity, "Số lượng %s vượt quá giới hạn %d", raw, p.MaxQuantity)
	}
	return q, ValidateQuantity(q, original, p)
}

// ValidateQuantity trả về nil khi q là số nguyên không âm, q <= giới hạn và
// (nếu bật) q <= số lượng gốc.
func ValidateQuantity(q, original int, p Policy) *Error {
	if q < 0 {
		return newError(CodeInvalidQuantity, FieldQuantity, "Số lượng phải là số nguyên không âm")
	}
	if p.MaxQuantity > 0 && q > p.MaxQuantity {
		return newError(CodeQuantityTooLarge, FieldQuantity, "Số lượng %d vượt quá giới hạn %d", q, p.MaxQuantity)
	}
	if p.CapToOriginal && q > original {
		return newError(CodeQuantityExceedsOriginal, FieldQuantity, "Số lượng %d vượt quá số lượng đặt ban đầu %d", q, original)
	}
	return nil
}

// ValidateDeliveryDate so sánh theo ngày (bỏ giờ): hôm nay <= d <= hôm nay + MaxLeadDays.
func ValidateDeliveryDate(d models.Date, now time.Time, p Policy) *Error {
	today := models.DateOf(now, p.location())
	if d.Before(today) {
		return newError(CodeDeliveryDateInPast, FieldDeliveryDate, "Ngày giao không được nhỏ hơn ngày hiện tại")
	}
	if p.MaxLeadDays > 0 && d.After(today.AddDays(p.MaxLeadDays)) {
		return newError(CodeDeliveryDateTooFar, FieldDeliveryDate, "Ngày giao không được quá %d ngày trong tương lai", p.MaxLeadDays)
	}
	return nil
}

// ValidateReason chỉ bắt buộc lý do khi từ chối.
func ValidateReason(action models.Action, reason string) *Error {
	if action == models.ActionReject && strings.TrimSpace(reason) == "" {
		return newError(CodeReasonRequired, FieldReason, "Vui lòng nhập lý do từ chối")
	}
	return nil
}
