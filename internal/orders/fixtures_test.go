package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/models"
	"wecare-supplier-api-server/internal/socket"
	"wecare-supplier-api-server/internal/syncqueue"
	"wecare-supplier-api-server/internal/validation"
)

// now cố định: 09:00 ngày 01/05/2025 giờ Việt Nam.
var now = time.Date(2025, time.May, 1, 9, 0, 0, 0, models.Location)

func statusPtr(s models.Status) *models.Status { return &s }
func intPtr(v int) *int                        { return &v }
func datePtr(y int, m time.Month, d int) *models.Date {
	return &models.Date{Year: y, Month: m, Day: d}
}

func draft(id, agent string, created time.Time, qty int) models.DraftOrder {
	return models.DraftOrder{
		ID:                   id,
		ProductName:          "Sản phẩm " + id,
		Unit:                 "Cái",
		Quantity:             qty,
		UnitPrice:            decimal.NewFromInt(1000),
		ExpectedDeliveryDate: datePtr(2025, time.May, 3),
		SupplierCode:         "NCC01",
		PurchasingAgent:      agent,
		CreatedOn:            created,
	}
}

func urgent(o models.DraftOrder) models.DraftOrder {
	o.UrgentType = intPtr(models.UrgentTypeUrgent)
	return o
}

func decided(o models.DraftOrder, s models.Status) models.DraftOrder {
	o.DecisionStatus = statusPtr(s)
	return o
}

// sampleOrders: o-1, o-2 cùng nhân viên và cùng ngày; o-3 khẩn; o-4 đã xác nhận.
func sampleOrders() []models.DraftOrder {
	return []models.DraftOrder{
		draft("o-1", "Lan", now.Add(-5*time.Hour), 100),
		draft("o-2", "Lan", now.Add(-4*time.Hour), 50),
		urgent(draft("o-3", "Minh", now.Add(-40*time.Minute), 10)),
		decided(draft("o-4", "Minh", now.Add(-48*time.Hour), 20), models.StatusConfirmed),
	}
}

func testPolicy() validation.Policy {
	p := validation.DefaultPolicy()
	p.Location = models.Location
	return p
}

func newTestBook() *Book {
	b := NewBook("NCC01", testPolicy(), DefaultWindows())
	b.Replace(sampleOrders(), now)
	return b
}

type fakeLoader struct {
	mu     sync.Mutex
	orders []models.DraftOrder
	calls  int
	err    error
}

func (l *fakeLoader) GetAllDraftOrders(context.Context, string) ([]models.DraftOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return append([]models.DraftOrder(nil), l.orders...), nil
}

type notifications struct {
	mu     sync.Mutex
	events []socket.Event
}

func (n *notifications) Notify(_ string, ev socket.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *notifications) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Event)
	}
	return out
}

type fakeEnqueuer struct {
	mu      sync.Mutex
	updates []crm.StatusUpdate
	err     error
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, code string, u crm.StatusUpdate) (syncqueue.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return syncqueue.Job{}, e.err
	}
	e.updates = append(e.updates, u)
	return syncqueue.Job{ID: "job-" + u.OrderID, SupplierCode: code, OrderID: u.OrderID, Update: u}, nil
}

func (e *fakeEnqueuer) sent() []crm.StatusUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]crm.StatusUpdate(nil), e.updates...)
}

var errJournalDown = errors.New("journal unavailable")

// journaledJob là job còn trong nhật ký từ lần chạy trước.
func journaledJob(orderID string, status models.Status, state syncqueue.State, attempts int) syncqueue.Job {
	u := crm.StatusUpdate{OrderID: orderID, Status: status, OriginalQuantity: intPtr(100)}
	if status == models.StatusRejected {
		u.ConfirmedQuantity = intPtr(0)
		u.Notes = "hết hàng"
	} else {
		u.ConfirmedQuantity = intPtr(80)
		u.DeliveryDate = datePtr(2025, time.May, 3)
	}
	return syncqueue.Job{
		ID:            "job-" + orderID,
		SupplierCode:  "NCC01",
		OrderID:       orderID,
		Update:        u,
		Attempts:      attempts,
		State:         state,
		NextAttemptAt: now,
		CreatedAt:     now.Add(-time.Minute),
	}
}
