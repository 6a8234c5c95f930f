package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/orders"
	"wecare-supplier-api-server/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// respondError chuyển lỗi nghiệp vụ thành mã HTTP và thông báo tiếng Việt cho mini app.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		verr    *validation.Error
		authErr *crm.AuthError
		pwErr   *crm.PasswordChangeError
		tokErr  *crm.TokenError
		netErr  *crm.NetworkError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   verr.Message,
			"code":    verr.Code,
			"field":   verr.Field,
			"orderId": verr.OrderID,
		})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Message, "reason": authErr.Reason})
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, crm.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy đơn hàng hoặc nhà cung cấp"})
	case errors.Is(err, crm.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Mã bản ghi không hợp lệ"})
	case errors.Is(err, orders.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "Đơn hàng đã được xử lý trước đó"})
	case errors.Is(err, orders.ErrNoOrders):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vui lòng chọn ít nhất một đơn hàng"})
	case errors.As(err, &pwErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Không thể đổi mật khẩu. Vui lòng thử lại sau!", "details": pwErr.Error()})
	case errors.As(err, &tokErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Không thể kết nối hệ thống CRM", "retryable": true})
	case errors.As(err, &netErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "Lỗi kết nối hệ thống CRM. Vui lòng thử lại!",
			"details":   netErr.Error(),
			"retryable": netErr.Retryable(),
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Hệ thống phản hồi quá lâu. Vui lòng thử lại!", "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Đã xảy ra lỗi. Vui lòng thử lại sau!"})
	}
}

// respondBindError trả 400 kèm thông báo cho từng trường sai.
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": getAllErrorMessages(verrs)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu gửi lên không hợp lệ", "details": err.Error()})
}

// fieldMessages là thông báo riêng theo "Trường.tag" (tên field Go), dùng trước thông báo chung.
var fieldMessages = map[string]string{
	"Phone.required":           "Vui lòng nhập đầy đủ số điện thoại và mật khẩu",
	"Password.required":        "Vui lòng nhập đầy đủ số điện thoại và mật khẩu",
	"NewPassword.required":     "Vui lòng nhập mật khẩu mới",
	"NewPassword.min":          "Mật khẩu mới phải có ít nhất 6 ký tự",
	"ConfirmPassword.required": "Vui lòng xác nhận mật khẩu mới",
	"ConfirmPassword.eqfield":  "Mật khẩu xác nhận không khớp",
	"Reason.required":          "Vui lòng nhập lý do từ chối",
	"OrderIDs.required":        "Vui lòng chọn ít nhất một đơn hàng",
	"OrderIDs.min":             "Vui lòng chọn ít nhất một đơn hàng",
}

func getAllErrorMessages(verrs validator.ValidationErrors) string {
	messages := make([]string, 0, len(verrs))
	seen := make(map[string]bool)
	for _, fe := range verrs {
		msg := getMessage(fe)
		if seen[msg] {
			continue
		}
		seen[msg] = true
		messages = append(messages, msg)
	}
	return strings.Join(messages, "; ")
}

func getMessage(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s': không được để trống", fe.Field())
	case "min":
		return fmt.Sprintf("'%s': tối thiểu %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("'%s': tối đa %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("'%s': chỉ nhận một trong các giá trị %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("'%s': giá trị không hợp lệ", fe.Field())
}
