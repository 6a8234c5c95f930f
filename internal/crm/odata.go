package crm

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// query là các tham số OData hệ thống ($select, $filter, ...) của một lần đọc.
type query struct {
	Select  []string
	Filter  string
	OrderBy string
	Top     int
}

// encode giữ thứ tự tham số cố định và mã hóa khoảng trắng thành %20.
func (q query) encode() string {
	var parts []string
	if len(q.Select) > 0 {
		parts = append(parts, "$select="+escape(strings.Join(q.Select, ",")))
	}
	if q.Top > 0 {
		parts = append(parts, "$top="+strconv.Itoa(q.Top))
	}
	if q.Filter != "" {
		parts = append(parts, "$filter="+escape(q.Filter))
	}
	if q.OrderBy != "" {
		parts = append(parts, "$orderby="+escape(q.OrderBy))
	}
	return strings.Join(parts, "&")
}

func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// quote tạo literal chuỗi OData, nháy đơn được nhân đôi.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// entityPath trả về "set(guid)" sau khi kiểm tra id là GUID.
func entityPath(set, id string) (string, error) {
	parsed, err := uuid.Parse(strings.Trim(id, "{}"))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return fmt.Sprintf("%s(%s)", set, parsed.String()), nil
}
