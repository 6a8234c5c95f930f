// Package syncqueue ghi các quyết định của NCC lên CRM ở nền, thử lại với backoff
// và lưu nhật ký để không mất quyết định khi tiến trình khởi động lại.
package syncqueue

import (
	"context"
	"time"

	"wecare-supplier-api-server/internal/crm"
)

// State là trạng thái của một job trong nhật ký.
type State string

const (
	StateQueued    State = "queued"
	StateAbandoned State = "abandoned"
)

// Job là một lần ghi quyết định cho một đơn.
type Job struct {
	ID            string           `json:"id" bson:"_id"`
	SupplierCode  string           `json:"supplierCode" bson:"supplierCode"`
	OrderID       string           `json:"orderId" bson:"orderId"`
	Update        crm.StatusUpdate `json:"update" bson:"update"`
	Attempts      int              `json:"attempts" bson:"attempts"`
	State         State            `json:"state" bson:"state"`
	LastError     string           `json:"lastError,omitempty" bson:"lastError,omitempty"`
	NextAttemptAt time.Time        `json:"nextAttemptAt" bson:"nextAttemptAt"`
	CreatedAt     time.Time        `json:"createdAt" bson:"createdAt"`
}

// Journal lưu các job chưa hoàn tất.
type Journal interface {
	Save(ctx context.Context, job Job) error
	Delete(ctx context.Context, id string) error
	// Pending trả về các job còn ở trạng thái queued, sớm nhất trước.
	Pending(ctx context.Context) ([]Job, error)
	// Outstanding trả về các job queued và abandoned của một NCC, cũ nhất trước.
	Outstanding(ctx context.Context, supplierCode string) ([]Job, error)
}

// StatusWriter là phần của crm.Client mà hàng đợi gọi.
type StatusWriter interface {
	UpdateDraftOrderStatus(ctx context.Context, u crm.StatusUpdate) error
}

// Tracker nhận kết quả đồng bộ để cập nhật trạng thái cục bộ của đơn.
type Tracker interface {
	MarkSynced(supplierCode, orderID string)
	MarkSyncFailed(supplierCode, orderID string, err error, abandoned bool)
	// Superseded báo đơn đã có quyết định khác trên CRM; job của đơn đó bị bỏ.
	Superseded(supplierCode, orderID string) bool
}

// Archiver lưu biên nhận của lần ghi thành công.
type Archiver interface {
	Archive(ctx context.Context, job Job) (string, error)
}
