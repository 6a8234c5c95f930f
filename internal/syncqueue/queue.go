package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wecare-supplier-api-server/config"
	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/socket"
)

var (
	ErrClosed    = errors.New("syncqueue: queue is closed")
	ErrDuplicate = errors.New("syncqueue: draft order already has an unfinished sync job")
)

const (
	msgSyncFailed    = "Đã lưu cục bộ nhưng chưa đồng bộ được với hệ thống, sẽ tự động thử lại"
	msgSyncAbandoned = "Không thể đồng bộ quyết định với hệ thống, vui lòng liên hệ Wecare"
	archiveTimeout   = 15 * time.Second
)

// Queue chạy các job ghi trạng thái bằng một nhóm worker.
// Job thất bại được hẹn giờ chạy lại; job bị bỏ vẫn nằm trong nhật ký để tra cứu.
type Queue struct {
	cfg      config.SyncConfig
	writer   StatusWriter
	journal  Journal
	tracker  Tracker
	notifier socket.Notifier
	archiver Archiver
	log      logrus.FieldLogger
	now      func() time.Time

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	timers map[string]*time.Timer
	// active: job chưa xong theo NCC và đơn, mỗi đơn tối đa một job.
	active map[string]string
}

type Option func(*Queue)

// WithArchiver bật lưu biên nhận sau mỗi lần ghi thành công.
func WithArchiver(a Archiver) Option {
	return func(q *Queue) { q.archiver = a }
}

func NewQueue(cfg config.SyncConfig, writer StatusWriter, journal Journal, tracker Tracker, notifier socket.Notifier, log logrus.FieldLogger, opts ...Option) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 20 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = backoff.DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = backoff.DefaultMaxInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:      cfg,
		writer:   writer,
		journal:  journal,
		tracker:  tracker,
		notifier: notifier,
		log:      log.WithField("component", "syncqueue"),
		now:      time.Now,
		jobs:     make(chan Job, 256),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
		active:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue ghi job vào nhật ký rồi đưa vào hàng đợi. Lỗi nhật ký được trả về,
// job chưa được chạy trong trường hợp đó. Đơn đang có job chưa xong trả về ErrDuplicate.
// Khi hàng đợi đầy đến lúc ctx hết hạn, job đã ghi nhật ký được hẹn giờ đưa vào sau.
func (q *Queue) Enqueue(ctx context.Context, supplierCode string, u crm.StatusUpdate) (Job, error) {
	now := q.now()
	job := Job{
		ID:            uuid.NewString(),
		SupplierCode:  supplierCode,
		OrderID:       u.OrderID,
		Update:        u,
		State:         StateQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, ErrClosed
	}
	key := activeKey(supplierCode, u.OrderID)
	if _, ok := q.active[key]; ok {
		q.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrDuplicate, u.OrderID)
	}
	q.active[key] = job.ID
	q.mu.Unlock()

	if err := q.journal.Save(ctx, job); err != nil {
		q.release(job)
		return Job{}, err
	}
	if !q.submit(ctx, job) {
		q.log.WithFields(logrus.Fields{
			"supplier_code": supplierCode,
			"order_id":      job.OrderID,
		}).Warn("Sync queue is full, deferring journaled job")
		q.schedule(job, q.cfg.InitialInterval)
	}
	return job, nil
}

// Recover nạp lại các job còn trong nhật ký, thường gọi lúc khởi động.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	jobs, err := q.journal.Pending(ctx)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	for _, job := range jobs {
		q.active[activeKey(job.SupplierCode, job.OrderID)] = job.ID
	}
	q.mu.Unlock()

	now := q.now()
	for _, job := range jobs {
		q.schedule(job, job.NextAttemptAt.Sub(now))
	}
	if len(jobs) > 0 {
		q.log.WithField("jobs", len(jobs)).Info("Recovered pending sync jobs")
	}
	return len(jobs), nil
}

// Close dừng nhận job mới và chờ các lần ghi đang chạy xong.
// Job chưa chạy vẫn còn trong nhật ký.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) schedule(job Job, delay time.Duration) {
	if delay <= 0 {
		q.submit(q.ctx, job)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.timers[job.ID] = time.AfterFunc(delay, func() { q.submit(q.ctx, job) })
}

// submit trả về false nếu ctx hết hạn trước khi kênh còn chỗ.
func (q *Queue) submit(ctx context.Context, job Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return true
	}
	delete(q.timers, job.ID)
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return true
	case <-q.ctx.Done():
		return true
	case <-ctx.Done():
		return false
	}
}

// release bỏ đánh dấu đơn đang có job, khi job đã xong hoặc bị bỏ.
func (q *Queue) release(job Job) {
	key := activeKey(job.SupplierCode, job.OrderID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[key] == job.ID {
		delete(q.active, key)
	}
}

func activeKey(supplierCode, orderID string) string {
	return supplierCode + "|" + orderID
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

func (q *Queue) process(job Job) {
	log := q.log.WithFields(logrus.Fields{
		"supplier_code": job.SupplierCode,
		"order_id":      job.OrderID,
		"attempt":       job.Attempts + 1,
		"status":        job.Update.Status.String(),
	})

	// Lần ghi đang chạy không bị hủy khi Close, chỉ bị giới hạn bởi WriteTimeout.
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.WriteTimeout)
	defer cancel()

	if q.tracker.Superseded(job.SupplierCode, job.OrderID) {
		q.release(job)
		if err := q.journal.Delete(ctx, job.ID); err != nil {
			log.WithError(err).Error("Superseded job could not be removed from journal")
		}
		log.Info("Draft order decided differently on CRM, dropping sync job")
		return
	}

	start := time.Now()
	err := q.writer.UpdateDraftOrderStatus(ctx, job.Update)
	log = log.WithField("duration_ms", time.Since(start).Milliseconds())
	if err == nil {
		q.succeed(ctx, job, log)
		return
	}
	q.fail(ctx, job, err, log)
}

func (q *Queue) succeed(ctx context.Context, job Job, log logrus.FieldLogger) {
	job.Attempts++
	if err := q.journal.Delete(ctx, job.ID); err != nil {
		log.WithError(err).Error("Synced job could not be removed from journal")
	}
	q.release(job)
	q.tracker.MarkSynced(job.SupplierCode, job.OrderID)
	q.notifier.Notify(job.SupplierCode, socket.Event{
		Event:   socket.EventOrderSynced,
		OrderID: job.OrderID,
		Status:  job.Update.Status.String(),
	})
	log.Info("Draft order decision synced")

	if q.archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if url, err := q.archiver.Archive(actx, job); err != nil {
		log.WithError(err).Warn("Failed to archive decision receipt")
	} else {
		log.WithField("receipt", url).Debug("Decision receipt archived")
	}
}

func (q *Queue) fail(ctx context.Context, job Job, cause error, log logrus.FieldLogger) {
	job.Attempts++
	job.LastError = cause.Error()
	log = log.WithError(cause)

	if job.Attempts >= q.cfg.MaxAttempts || !crm.IsRetryable(cause) {
		job.State = StateAbandoned
		if err := q.journal.Save(ctx, job); err != nil {
			log.WithField("journal_error", err).Error("Abandoned job could not be saved")
		}
		q.release(job)
		q.tracker.MarkSyncFailed(job.SupplierCode, job.OrderID, cause, true)
		q.notifier.Notify(job.SupplierCode, socket.Event{
			Event:   socket.EventSyncAbandoned,
			OrderID: job.OrderID,
			Status:  job.Update.Status.String(),
			Message: msgSyncAbandoned,
		})
		log.Error("Draft order decision abandoned")
		return
	}

	delay := q.delay(job.Attempts)
	job.NextAttemptAt = q.now().Add(delay)
	if err := q.journal.Save(ctx, job); err != nil {
		log.WithField("journal_error", err).Error("Failed job could not be saved")
	}
	q.tracker.MarkSyncFailed(job.SupplierCode, job.OrderID, cause, false)
	q.notifier.Notify(job.SupplierCode, socket.Event{
		Event:   socket.EventSyncFailed,
		OrderID: job.OrderID,
		Status:  job.Update.Status.String(),
		Message: msgSyncFailed,
	})
	log.WithField("retry_in", delay.String()).Warn("Draft order decision not synced, will retry")
	q.schedule(job, delay)
}

// delay là khoảng chờ trước lần thử thứ attempts+1.
func (q *Queue) delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialInterval
	b.MaxInterval = q.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
