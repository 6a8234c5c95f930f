package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/models"
	"wecare-supplier-api-server/internal/socket"
	"wecare-supplier-api-server/internal/syncqueue"
)

const (
	enqueueTimeout  = 10 * time.Second
	enqueueParallel = 4
)

// Enqueuer là phần của syncqueue.Queue mà Workflow dùng.
type Enqueuer interface {
	Enqueue(ctx context.Context, supplierCode string, u crm.StatusUpdate) (syncqueue.Job, error)
}

// Result là phản hồi ngay sau khi quyết định được áp dụng cục bộ.
type Result struct {
	Action   models.Action `json:"action"`
	Status   string        `json:"status"`
	OrderIDs []string      `json:"orderIds"`
	Message  string        `json:"message"`
}

// Workflow xử lý xác nhận/từ chối: kiểm tra, cập nhật lạc quan rồi giao việc ghi CRM cho hàng đợi.
type Workflow struct {
	registry *Registry
	queue    Enqueuer
	notifier socket.Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewWorkflow(registry *Registry, queue Enqueuer, notifier socket.Notifier, log logrus.FieldLogger) *Workflow {
	return &Workflow{
		registry: registry,
		queue:    queue,
		notifier: notifier,
		log:      log.WithField("component", "workflow"),
		now:      time.Now,
	}
}

// Confirm xác nhận một hoặc nhiều đơn với số lượng/ngày giao trong bộ đệm.
func (w *Workflow) Confirm(ctx context.Context, supplierCode string, ids []string) (*Result, error) {
	return w.decide(ctx, supplierCode, models.ActionConfirm, ids, "")
}

// Reject từ chối một hoặc nhiều đơn. Lý do trống thì lấy từ bộ đệm của từng đơn.
func (w *Workflow) Reject(ctx context.Context, supplierCode string, ids []string, reason string) (*Result, error) {
	return w.decide(ctx, supplierCode, models.ActionReject, ids, reason)
}

func (w *Workflow) decide(ctx context.Context, supplierCode string, action models.Action, ids []string, reason string) (*Result, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, ErrNoOrders
	}
	book, err := w.registry.Load(ctx, supplierCode)
	if err != nil {
		return nil, err
	}

	updates, err := book.decide(action, ids, reason, w.now())
	if err != nil {
		return nil, err
	}

	status := action.Target().String()
	log := w.log.WithFields(logrus.Fields{"supplier_code": supplierCode, "status": status})
	for _, id := range ids {
		w.notifier.Notify(supplierCode, socket.Event{Event: socket.EventOrderDecided, OrderID: id, Status: status})
	}
	log.WithField("orders", len(ids)).Info("Draft orders decided locally")

	// Ghi nhật ký không phụ thuộc vào request của NCC: request có thể kết thúc trước.
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(enqueueParallel)
	for _, u := range updates {
		g.Go(func() error {
			if _, err := w.queue.Enqueue(enqueueCtx, supplierCode, u); err != nil {
				// Không hoàn tác quyết định cục bộ, chỉ báo chưa đồng bộ.
				log.WithError(err).WithField("order_id", u.OrderID).Error("Could not queue draft order decision")
				book.markSyncFailed(u.OrderID, err, true)
				w.notifier.Notify(supplierCode, socket.Event{
					Event:   socket.EventSyncFailed,
					OrderID: u.OrderID,
					Status:  status,
					Message: failureMessage(action),
				})
			}
			return nil
		})
	}
	g.Wait()

	return &Result{
		Action:   action,
		Status:   status,
		OrderIDs: ids,
		Message:  successMessage(action, len(ids)),
	}, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func successMessage(action models.Action, n int) string {
	verb := "xác nhận"
	if action == models.ActionReject {
		verb = "từ chối"
	}
	if n == 1 {
		return fmt.Sprintf("Đã %s đơn hàng thành công!", verb)
	}
	return fmt.Sprintf("Đã %s %d đơn hàng thành công!", verb, n)
}

func failureMessage(action models.Action) string {
	if action == models.ActionReject {
		return "Đã từ chối đơn hàng nhưng có lỗi khi lưu vào hệ thống"
	}
	return "Đã xác nhận đơn hàng nhưng có lỗi khi lưu vào hệ thống"
}
