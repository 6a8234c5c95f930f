package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/syncqueue"
)

// Receipt là biên nhận của một quyết định đã đồng bộ lên CRM.
type Receipt struct {
	ID           string           `json:"id"`
	JobID        string           `json:"jobId"`
	SupplierCode string           `json:"supplierCode"`
	OrderID      string           `json:"orderId"`
	Update       crm.StatusUpdate `json:"update"`
	Attempts     int              `json:"attempts"`
	DecidedAt    time.Time        `json:"decidedAt"`
	SyncedAt     time.Time        `json:"syncedAt"`
}

// ReceiptArchiver lưu biên nhận dạng JSON vào receipts/<mã NCC>/<id đơn>/<id job>.json.
type ReceiptArchiver struct {
	uploader *Uploader
	now      func() time.Time
}

func NewReceiptArchiver(u *Uploader) *ReceiptArchiver {
	return &ReceiptArchiver{uploader: u, now: time.Now}
}

func ReceiptKey(job syncqueue.Job) string {
	return fmt.Sprintf("receipts/%s/%s/%s.json", job.SupplierCode, job.OrderID, job.ID)
}

func (a *ReceiptArchiver) Archive(ctx context.Context, job syncqueue.Job) (string, error) {
	receipt := Receipt{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		SupplierCode: job.SupplierCode,
		OrderID:      job.OrderID,
		Update:       job.Update,
		Attempts:     job.Attempts,
		DecidedAt:    job.CreatedAt,
		SyncedAt:     a.now(),
	}
	body, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	return a.uploader.UploadFile(ctx, bytes.NewReader(body), ReceiptKey(job), "application/json")
}
