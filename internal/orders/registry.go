package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wecare-supplier-api-server/internal/models"
	"wecare-supplier-api-server/internal/socket"
	"wecare-supplier-api-server/internal/syncqueue"
	"wecare-supplier-api-server/internal/validation"
)

// Loader là phần của crm.Client dùng để đọc đơn nháp.
type Loader interface {
	GetAllDraftOrders(ctx context.Context, supplierCode string) ([]models.DraftOrder, error)
}

// JobSource là phần của nhật ký đồng bộ mà Registry đọc khi nạp Book.
type JobSource interface {
	Outstanding(ctx context.Context, supplierCode string) ([]syncqueue.Job, error)
}

// Registry giữ một Book cho mỗi mã NCC. Registry cũng nhận kết quả từ hàng đợi đồng bộ.
type Registry struct {
	loader   Loader
	jobs     JobSource
	notifier socket.Notifier
	policy   validation.Policy
	windows  Windows
	log      logrus.FieldLogger
	now      func() time.Time

	mu    sync.Mutex
	books map[string]*Book
}

func NewRegistry(loader Loader, notifier socket.Notifier, policy validation.Policy, windows Windows, log logrus.FieldLogger) *Registry {
	return &Registry{
		loader:   loader,
		notifier: notifier,
		policy:   policy,
		windows:  windows,
		log:      log.WithField("component", "orders"),
		now:      time.Now,
		books:    make(map[string]*Book),
	}
}

// UseJobs cho Reload đọc nhật ký đồng bộ, để job còn lại từ lần chạy trước
// hiện thành quyết định cục bộ thay vì đơn pending.
func (r *Registry) UseJobs(src JobSource) { r.jobs = src }

func (r *Registry) Policy() validation.Policy { return r.policy }

// Book trả về Book đã nạp của NCC, nếu có.
func (r *Registry) Book(supplierCode string) (*Book, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[supplierCode]
	return b, ok
}

func (r *Registry) bookFor(supplierCode string) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[supplierCode]
	if !ok {
		b = NewBook(supplierCode, r.policy, r.windows)
		r.books[supplierCode] = b
	}
	return b
}

// Load trả về Book đã có, chỉ đọc CRM khi NCC chưa được nạp lần nào.
func (r *Registry) Load(ctx context.Context, supplierCode string) (*Book, error) {
	if b, ok := r.Book(supplierCode); ok && !b.LoadedAt().IsZero() {
		return b, nil
	}
	return r.Reload(ctx, supplierCode)
}

// Reload đọc lại toàn bộ đơn nháp từ CRM và đối chiếu với quyết định cục bộ.
// Nhật ký được đọc trước CRM: job xong giữa hai lần đọc sẽ khớp với trạng thái CRM.
func (r *Registry) Reload(ctx context.Context, supplierCode string) (*Book, error) {
	var jobs []syncqueue.Job
	if r.jobs != nil {
		var err error
		if jobs, err = r.jobs.Outstanding(ctx, supplierCode); err != nil {
			return nil, fmt.Errorf("read sync journal: %w", err)
		}
	}
	orders, err := r.loader.GetAllDraftOrders(ctx, supplierCode)
	if err != nil {
		return nil, err
	}
	b := r.bookFor(supplierCode)
	conflicts := b.Reconcile(orders, jobs, r.now())

	log := r.log.WithField("supplier_code", supplierCode)
	for _, c := range conflicts {
		log.WithFields(logrus.Fields{
			"order_id": c.OrderID,
			"local":    c.Local,
			"remote":   c.Remote,
		}).Warn("CRM decision differs from unsynced local decision, keeping CRM")
		r.notifier.Notify(supplierCode, socket.Event{
			Event:   socket.EventOrderConflict,
			OrderID: c.OrderID,
			Status:  c.Remote,
			Message: "Đơn hàng đã được xử lý khác trên hệ thống, trạng thái đã được cập nhật lại",
			At:      c.DetectedAt,
		})
	}
	log.WithField("orders", len(orders)).Debug("Draft orders reloaded")
	return b, nil
}

// MarkSynced, MarkSyncFailed và Superseded được hàng đợi đồng bộ gọi.
func (r *Registry) MarkSynced(supplierCode, orderID string) {
	if b, ok := r.Book(supplierCode); ok {
		b.markSynced(orderID)
	}
}

func (r *Registry) MarkSyncFailed(supplierCode, orderID string, err error, abandoned bool) {
	if b, ok := r.Book(supplierCode); ok {
		b.markSyncFailed(orderID, err, abandoned)
	}
}

func (r *Registry) Superseded(supplierCode, orderID string) bool {
	if b, ok := r.Book(supplierCode); ok {
		return b.superseded(orderID)
	}
	return false
}
