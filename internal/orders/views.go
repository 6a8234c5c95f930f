package orders

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"wecare-supplier-api-server/internal/models"
)

// Windows là thời hạn NCC phải phản hồi, tính từ lúc tạo đơn.
type Windows struct {
	Pending time.Duration
	Urgent  time.Duration
}

func DefaultWindows() Windows {
	return Windows{Pending: 6 * time.Hour, Urgent: 30 * time.Minute}
}

// Countdown là thời gian còn lại để NCC phản hồi một đơn.
type Countdown struct {
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remainingSeconds"`
	Expired          bool      `json:"expired"`
	// Warning bật khi còn không quá 20% thời hạn.
	Warning bool `json:"warning"`
}

func (w Windows) Deadline(o models.DraftOrder, now time.Time) Countdown {
	total := w.Pending
	if o.IsUrgent() {
		total = w.Urgent
	}
	deadline := o.CreatedOn.Add(total)
	remaining := deadline.Sub(now)
	c := Countdown{Deadline: deadline}
	if remaining <= 0 {
		c.Expired = true
		return c
	}
	c.RemainingSeconds = int64(remaining / time.Second)
	c.Warning = total > 0 && remaining*5 <= total
	return c
}

// Decision là quyết định NCC vừa đưa ra, giữ lại cho tới khi CRM phản ánh nó.
type Decision struct {
	Status            models.Status `json:"-"`
	ConfirmedQuantity int           `json:"confirmedQuantity"`
	DeliveryDate      *models.Date  `json:"deliveryDate,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	DecidedAt         time.Time     `json:"decidedAt"`
}

// Conflict ghi lại trường hợp CRM có quyết định khác với quyết định chưa đồng bộ của NCC.
// Quyết định trên CRM được giữ.
type Conflict struct {
	OrderID     string    `json:"orderId"`
	ProductName string    `json:"productName"`
	Local       string    `json:"local"`
	Remote      string    `json:"remote"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// OrderView là một đơn kèm trạng thái cục bộ, trả cho mini app.
type OrderView struct {
	models.DraftOrder
	LocalStatus string             `json:"localStatus"`
	SyncState   SyncState          `json:"syncState,omitempty"`
	SyncError   string             `json:"syncError,omitempty"`
	Urgent      bool               `json:"urgent"`
	LineTotal   decimal.Decimal    `json:"lineTotal"`
	Countdown   *Countdown         `json:"countdown,omitempty"`
	Decision    *Decision          `json:"decision,omitempty"`
	Buffer      *models.EditBuffer `json:"buffer,omitempty"`
}

// Group gom các đơn cùng nhân viên mua hàng và cùng ngày tạo.
type Group struct {
	Key             string          `json:"key"`
	PurchasingAgent string          `json:"purchasingAgent"`
	Date            models.Date     `json:"date"`
	Orders          []OrderView     `json:"orders"`
	Total           decimal.Decimal `json:"total"`
	Urgent          bool            `json:"urgent"`
	Pending         int             `json:"pending"`
	Confirmed       int             `json:"confirmed"`
	Rejected        int             `json:"rejected"`
}

// GroupKey là "<nhân viên mua hàng>|<YYYY-MM-DD>" theo múi giờ loc.
func GroupKey(o models.DraftOrder, loc *time.Location) string {
	return fmt.Sprintf("%s|%s", o.PurchasingAgent, models.DateOf(o.CreatedOn, loc))
}

// Counts là số đơn theo trạng thái.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
	Urgent    int `json:"urgent"`
}

// Stats là số liệu cho màn hình tổng quan và hồ sơ.
type Stats struct {
	Orders       Counts          `json:"orders"`
	Groups       Counts          `json:"groups"`
	PendingValue decimal.Decimal `json:"pendingValue"`
	Unsynced     int             `json:"unsynced"`
	Conflicts    int             `json:"conflicts"`
	LoadedAt     time.Time       `json:"loadedAt"`
}

// sortViews sắp xếp đơn mới nhất trước.
func sortViews(views []OrderView) {
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].CreatedOn.Equal(views[j].CreatedOn) {
			return views[i].CreatedOn.After(views[j].CreatedOn)
		}
		return views[i].ID < views[j].ID
	})
}
