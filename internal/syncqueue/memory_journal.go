package syncqueue

import (
	"context"
	"sort"
	"sync"
)

// MemoryJournal dùng khi không cấu hình MongoDB; mất dữ liệu khi tắt tiến trình.
type MemoryJournal struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{jobs: make(map[string]Job)}
}

func (j *MemoryJournal) Save(_ context.Context, job Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[job.ID] = job
	return nil
}

func (j *MemoryJournal) Delete(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.jobs, id)
	return nil
}

func (j *MemoryJournal) Pending(_ context.Context) ([]Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		if job.State == StateQueued {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].NextAttemptAt.Before(out[b].NextAttemptAt) })
	return out, nil
}

func (j *MemoryJournal) Outstanding(_ context.Context, supplierCode string) ([]Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := []Job{}
	for _, job := range j.jobs {
		if job.SupplierCode == supplierCode {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// Get trả về job theo id.
func (j *MemoryJournal) Get(id string) (Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	return job, ok
}

func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.jobs)
}
