// Package orders giữ danh sách đơn nháp của từng NCC, bộ đệm chỉnh sửa và
// luồng xác nhận/từ chối với cập nhật lạc quan.
package orders

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/models"
	"wecare-supplier-api-server/internal/syncqueue"
	"wecare-supplier-api-server/internal/validation"
)

var (
	ErrOrderNotFound = errors.New("orders: draft order not found")
	ErrNotPending    = errors.New("orders: draft order already decided")
	ErrNoOrders      = errors.New("orders: no draft order selected")
)

// SyncState là tình trạng đồng bộ của quyết định cục bộ lên CRM.
type SyncState string

const (
	SyncNone      SyncState = ""
	SyncPending   SyncState = "pending_sync"
	SyncSynced    SyncState = "synced"
	SyncFailed    SyncState = "sync_failed"
	SyncAbandoned SyncState = "abandoned"
	// SyncConflict: CRM đã có quyết định khác, quyết định cục bộ bị bỏ.
	SyncConflict SyncState = "conflict"
)

func (s SyncState) unsynced() bool {
	return s == SyncPending || s == SyncFailed || s == SyncAbandoned
}

type entry struct {
	order    models.DraftOrder
	status   models.Status
	sync     SyncState
	syncErr  string
	decision *Decision
}

// Book là danh sách đơn nháp của một NCC.
type Book struct {
	code    string
	policy  validation.Policy
	windows Windows

	mu        sync.RWMutex
	entries   map[string]*entry
	buffers   map[string]*models.EditBuffer
	conflicts []Conflict
	loadedAt  time.Time
}

func NewBook(code string, policy validation.Policy, windows Windows) *Book {
	return &Book{
		code:    code,
		policy:  policy,
		windows: windows,
		entries: make(map[string]*entry),
		buffers: make(map[string]*models.EditBuffer),
	}
}

func (b *Book) SupplierCode() string { return b.code }

// Replace thay danh sách bằng dữ liệu mới từ CRM và đối chiếu với các quyết định chưa đồng bộ:
// CRM trùng quyết định cục bộ thì coi như đã đồng bộ, CRM còn pending thì giữ quyết định cục bộ,
// CRM có quyết định khác thì nhận bản CRM và trả về Conflict.
func (b *Book) Replace(orders []models.DraftOrder, now time.Time) []Conflict {
	return b.Reconcile(orders, nil, now)
}

// Reconcile như Replace nhưng có thêm các job ghi CRM còn trong nhật ký của NCC.
// Đơn Book chưa từng thấy (lần nạp đầu sau khi khởi động lại) nhận quyết định từ job của nó.
// Một đơn đang xung đột chỉ hết xung đột khi CRM giữ nguyên trạng thái đã nhận và không còn job queued.
func (b *Book) Reconcile(orders []models.DraftOrder, jobs []syncqueue.Job, now time.Time) []Conflict {
	b.mu.Lock()
	defer b.mu.Unlock()

	// jobs xếp cũ nhất trước, job mới nhất của mỗi đơn được giữ.
	journaled := make(map[string]syncqueue.Job, len(jobs))
	for _, j := range jobs {
		journaled[j.OrderID] = j
	}

	next := make(map[string]*entry, len(orders))
	var found []Conflict
	for _, o := range orders {
		e := &entry{order: o, status: o.Status()}
		prev, seen := b.entries[o.ID]
		job, hasJob := journaled[o.ID]
		switch {
		case seen && prev.decision != nil && prev.sync.unsynced():
			if c := settle(e, prev.decision, prev.sync, prev.syncErr, now); c != nil {
				found = append(found, *c)
			}
		case seen && prev.sync == SyncConflict:
			if e.status != prev.status || (hasJob && job.State == syncqueue.StateQueued) {
				e.sync = SyncConflict
			}
		case !seen && hasJob:
			state, syncErr := jobSyncState(job)
			if c := settle(e, decisionFromJob(job), state, syncErr, now); c != nil {
				found = append(found, *c)
			}
		}
		next[o.ID] = e
	}

	// Quyết định chưa đồng bộ của đơn không còn trong kết quả đọc vẫn được giữ.
	for id, prev := range b.entries {
		if _, ok := next[id]; !ok && prev.decision != nil && prev.sync.unsynced() {
			next[id] = prev
		}
	}

	b.entries = next
	for id := range b.buffers {
		if e, ok := next[id]; !ok || e.status != models.StatusPending {
			delete(b.buffers, id)
		}
	}
	b.conflicts = append(b.conflicts, found...)
	b.loadedAt = now
	return found
}

// settle đặt quyết định cục bộ chưa đồng bộ d lên e, khi e đang mang trạng thái đọc từ CRM.
func settle(e *entry, d *Decision, state SyncState, syncErr string, now time.Time) *Conflict {
	remote := e.status
	switch {
	case remote == d.Status:
		e.sync = SyncSynced
		e.decision = d
	case remote == models.StatusPending:
		e.status = d.Status
		e.sync = state
		e.syncErr = syncErr
		e.decision = d
	default:
		e.sync = SyncConflict
		return &Conflict{
			OrderID:     e.order.ID,
			ProductName: e.order.ProductName,
			Local:       d.Status.String(),
			Remote:      remote.String(),
			DetectedAt:  now,
		}
	}
	return nil
}

func decisionFromJob(job syncqueue.Job) *Decision {
	u := job.Update
	d := &Decision{
		Status:       u.Status,
		DeliveryDate: u.DeliveryDate,
		Notes:        u.Notes,
		DecidedAt:    job.CreatedAt,
	}
	if u.ConfirmedQuantity != nil {
		d.ConfirmedQuantity = *u.ConfirmedQuantity
	}
	return d
}

func jobSyncState(job syncqueue.Job) (SyncState, string) {
	switch {
	case job.State == syncqueue.StateAbandoned:
		return SyncAbandoned, job.LastError
	case job.Attempts > 0:
		return SyncFailed, job.LastError
	default:
		return SyncPending, ""
	}
}

func (b *Book) LoadedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loadedAt
}

func (b *Book) Get(id string, now time.Time) (OrderView, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	if !ok {
		return OrderView{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return b.viewLocked(e, now), nil
}

func (b *Book) viewLocked(e *entry, now time.Time) OrderView {
	v := OrderView{
		DraftOrder:  e.order,
		LocalStatus: e.status.String(),
		SyncState:   e.sync,
		SyncError:   e.syncErr,
		Urgent:      e.order.IsUrgent(),
		LineTotal:   e.order.LineTotal(),
		Decision:    e.decision,
	}
	if e.status == models.StatusPending {
		c := b.windows.Deadline(e.order, now)
		v.Countdown = &c
		if buf, ok := b.buffers[e.order.ID]; ok {
			cp := *buf
			v.Buffer = &cp
		}
	}
	return v
}

func (b *Book) collect(now time.Time, keep func(e *entry) bool) []OrderView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	views := []OrderView{}
	for _, e := range b.entries {
		if keep(e) {
			views = append(views, b.viewLocked(e, now))
		}
	}
	sortViews(views)
	return views
}

// Pending là các đơn còn chờ NCC phản hồi theo trạng thái cục bộ.
func (b *Book) Pending(now time.Time) []OrderView {
	return b.collect(now, func(e *entry) bool { return e.status == models.StatusPending })
}

// Urgent là các đơn pending có cờ khẩn.
func (b *Book) Urgent(now time.Time) []OrderView {
	return b.collect(now, func(e *entry) bool {
		return e.status == models.StatusPending && e.order.IsUrgent()
	})
}

func (b *Book) All(now time.Time) []OrderView {
	return b.collect(now, func(*entry) bool { return true })
}

// History là các đơn đã xác nhận hoặc từ chối.
func (b *Book) History(now time.Time) []OrderView {
	return b.collect(now, func(e *entry) bool { return e.status.IsTerminal() })
}

// Groups gom các đơn pending theo nhân viên mua hàng và ngày tạo.
func (b *Book) Groups(now time.Time) []Group {
	return groupViews(b.Pending(now), b.policy.Location)
}

func groupViews(views []OrderView, loc *time.Location) []Group {
	if loc == nil {
		loc = models.Location
	}
	index := map[string]int{}
	groups := []Group{}
	for _, v := range views {
		key := GroupKey(v.DraftOrder, loc)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{
				Key:             key,
				PurchasingAgent: v.PurchasingAgent,
				Date:            models.DateOf(v.CreatedOn, loc),
				Total:           decimal.Zero,
			})
		}
		g := &groups[i]
		g.Orders = append(g.Orders, v)
		g.Total = g.Total.Add(v.LineTotal)
		g.Urgent = g.Urgent || v.Urgent
		switch v.LocalStatus {
		case models.StatusConfirmed.String():
			g.Confirmed++
		case models.StatusRejected.String():
			g.Rejected++
		default:
			g.Pending++
		}
	}
	return groups
}

// Stats đếm theo đơn và theo nhóm (nhóm tính trên toàn bộ đơn, như màn hồ sơ).
func (b *Book) Stats(now time.Time) Stats {
	all := b.All(now)

	b.mu.RLock()
	st := Stats{
		PendingValue: decimal.Zero,
		Conflicts:    len(b.conflicts),
		LoadedAt:     b.loadedAt,
	}
	b.mu.RUnlock()

	for _, v := range all {
		st.Orders.Total++
		switch v.LocalStatus {
		case models.StatusConfirmed.String():
			st.Orders.Confirmed++
		case models.StatusRejected.String():
			st.Orders.Rejected++
		default:
			st.Orders.Pending++
			st.PendingValue = st.PendingValue.Add(v.LineTotal)
			if v.Urgent {
				st.Orders.Urgent++
			}
		}
		if v.SyncState.unsynced() {
			st.Unsynced++
		}
	}

	for _, g := range groupViews(all, b.policy.Location) {
		st.Groups.Total++
		if g.Confirmed > 0 {
			st.Groups.Confirmed++
		}
		if g.Rejected > 0 {
			st.Groups.Rejected++
		}
		if g.Confirmed == 0 && g.Rejected == 0 {
			st.Groups.Pending++
		}
		if g.Urgent && g.Pending > 0 {
			st.Groups.Urgent++
		}
	}
	return st
}

func (b *Book) Conflicts() []Conflict {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Conflict(nil), b.conflicts...)
}

// --- Bộ đệm chỉnh sửa ---

func (b *Book) pendingLocked(id string) (*entry, error) {
	e, ok := b.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if e.status != models.StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	return e, nil
}

func (b *Book) bufferLocked(id string) *models.EditBuffer {
	buf, ok := b.buffers[id]
	if !ok {
		buf = &models.EditBuffer{OrderID: id}
		b.buffers[id] = buf
	}
	return buf
}

func message(err *validation.Error) string {
	if err == nil {
		return ""
	}
	return err.Message
}

// SetQuantity lưu số lượng NCC nhập và kiểm tra ngay. Chuỗi rỗng xóa giá trị đã nhập.
func (b *Book) SetQuantity(id, raw string) (models.EditBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.pendingLocked(id)
	if err != nil {
		return models.EditBuffer{}, err
	}
	buf := b.bufferLocked(id)
	buf.Quantity = strings.TrimSpace(raw)
	buf.QuantityError = ""
	if buf.Quantity != "" {
		_, verr := validation.ParseQuantity(buf.Quantity, e.order.Quantity, b.policy)
		buf.QuantityError = message(verr)
	}
	return *buf, nil
}

// SetDeliveryDate lưu ngày giao NCC chọn và kiểm tra theo ngày hiện tại.
func (b *Book) SetDeliveryDate(id string, d models.Date, now time.Time) (models.EditBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.pendingLocked(id); err != nil {
		return models.EditBuffer{}, err
	}
	buf := b.bufferLocked(id)
	buf.DeliveryDate = &d
	buf.DeliveryDateError = message(validation.ValidateDeliveryDate(d, now, b.policy))
	return *buf, nil
}

// SetReason lưu lý do từ chối; lý do trống chỉ bị chặn khi gửi từ chối.
func (b *Book) SetReason(id, reason string) (models.EditBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.pendingLocked(id); err != nil {
		return models.EditBuffer{}, err
	}
	buf := b.bufferLocked(id)
	buf.Reason = reason
	buf.ReasonError = ""
	return *buf, nil
}

func (b *Book) Buffer(id string) (models.EditBuffer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf, ok := b.buffers[id]
	if !ok {
		return models.EditBuffer{}, false
	}
	return *buf, true
}

func (b *Book) Discard(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, id)
}

// --- Quyết định ---

// decide kiểm tra toàn bộ đơn rồi mới áp dụng, trong cùng một lần khóa:
// lỗi đầu tiên được trả về và không đơn nào bị thay đổi.
func (b *Book) decide(action models.Action, ids []string, reason string, now time.Time) ([]crm.StatusUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	updates := make([]crm.StatusUpdate, 0, len(ids))
	decisions := make([]*Decision, 0, len(ids))
	for _, id := range ids {
		e, err := b.pendingLocked(id)
		if err != nil {
			return nil, err
		}
		u, d, verr := b.resolveLocked(action, e, reason, now)
		if verr != nil {
			b.flagLocked(id, verr)
			return nil, verr.ForOrder(id)
		}
		updates = append(updates, u)
		decisions = append(decisions, d)
	}

	for i, id := range ids {
		e := b.entries[id]
		e.status = decisions[i].Status
		e.decision = decisions[i]
		e.sync = SyncPending
		e.syncErr = ""
		delete(b.buffers, id)
	}
	return updates, nil
}

// resolveLocked lấy số lượng/ngày giao từ bộ đệm, mặc định là số lượng gốc và
// ngày giao dự kiến (không có thì hôm nay), rồi kiểm tra.
func (b *Book) resolveLocked(action models.Action, e *entry, reason string, now time.Time) (crm.StatusUpdate, *Decision, *validation.Error) {
	original := e.order.Quantity
	buf := b.buffers[e.order.ID]
	u := crm.StatusUpdate{
		OrderID:          e.order.ID,
		Status:           action.Target(),
		OriginalQuantity: &original,
	}
	d := &Decision{Status: action.Target(), DecidedAt: now}

	if action == models.ActionReject {
		if strings.TrimSpace(reason) == "" && buf != nil {
			reason = buf.Reason
		}
		if verr := validation.ValidateReason(action, reason); verr != nil {
			return u, nil, verr
		}
		zero := 0
		u.ConfirmedQuantity = &zero
		u.Notes = strings.TrimSpace(reason)
		d.Notes = u.Notes
		return u, d, nil
	}

	quantity := original
	var verr *validation.Error
	if buf != nil && buf.Quantity != "" {
		quantity, verr = validation.ParseQuantity(buf.Quantity, original, b.policy)
	} else {
		verr = validation.ValidateQuantity(original, original, b.policy)
	}
	if verr != nil {
		return u, nil, verr
	}

	date := models.DateOf(now, b.policy.Location)
	switch {
	case buf != nil && buf.DeliveryDate != nil:
		date = *buf.DeliveryDate
	case e.order.ExpectedDeliveryDate != nil:
		date = *e.order.ExpectedDeliveryDate
	}
	if verr := validation.ValidateDeliveryDate(date, now, b.policy); verr != nil {
		return u, nil, verr
	}

	u.ConfirmedQuantity = &quantity
	u.DeliveryDate = &date
	d.ConfirmedQuantity = quantity
	d.DeliveryDate = &date
	return u, d, nil
}

// flagLocked ghi lỗi gửi vào bộ đệm để mini app hiển thị cạnh ô nhập.
func (b *Book) flagLocked(id string, verr *validation.Error) {
	buf := b.bufferLocked(id)
	switch verr.Field {
	case validation.FieldQuantity:
		buf.QuantityError = verr.Message
	case validation.FieldDeliveryDate:
		buf.DeliveryDateError = verr.Message
	case validation.FieldReason:
		buf.ReasonError = verr.Message
	}
}

// --- Kết quả đồng bộ ---

func (b *Book) markSynced(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[id]; ok && e.decision != nil && e.sync != SyncConflict {
		e.sync = SyncSynced
		e.syncErr = ""
	}
}

func (b *Book) markSyncFailed(id string, err error, abandoned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || e.decision == nil || e.sync == SyncConflict {
		return
	}
	e.sync = SyncFailed
	if abandoned {
		e.sync = SyncAbandoned
	}
	if err != nil {
		e.syncErr = err.Error()
	}
}

func (b *Book) superseded(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	return ok && e.sync == SyncConflict
}
