package fetcher

import (
	"sort"
	"sync"
	"time"
)

// HealthRecord tracks fetch outcomes for one source. Records are created on
// the first attempt and mutated on every attempt after that, never deleted.
type HealthRecord struct {
	LastSuccessAt       time.Time `json:"last_success_at"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastItemCount       int       `json:"last_item_count"`
}

// HealthStatus is the aggregate point-in-time view: a source counts as failed
// when its most recent attempt failed, regardless of history
type HealthStatus struct {
	Total           int      `json:"total"`
	Successful      int      `json:"successful"`
	Failed          int      `json:"failed"`
	FailedSourceIDs []string `json:"failed_source_ids"`
}

// HealthTracker records per-source fetch outcomes and exposes the aggregate
// snapshot consumed by dashboard collaborators
type HealthTracker struct {
	mu      sync.Mutex
	records map[string]*HealthRecord
	nowFn   func() time.Time
}

// NewHealthTracker creates an empty tracker
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		records: make(map[string]*HealthRecord),
		nowFn:   time.Now,
	}
}

// RecordSuccess marks a successful fetch, clearing any failure streak
func (t *HealthTracker) RecordSuccess(sourceID string, itemCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(sourceID)
	r.LastSuccessAt = t.nowFn()
	r.ConsecutiveFailures = 0
	r.LastItemCount = itemCount
}

// RecordFailure marks a failed fetch attempt
func (t *HealthTracker) RecordFailure(sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(sourceID)
	r.LastFailureAt = t.nowFn()
	r.ConsecutiveFailures++
}

// Record returns a copy of the health record for one source
func (t *HealthTracker) Record(sourceID string) (HealthRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[sourceID]
	if !ok {
		return HealthRecord{}, false
	}
	return *r, true
}

// Status returns the aggregate health snapshot
func (t *HealthTracker) Status() HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := HealthStatus{Total: len(t.records)}
	for id, r := range t.records {
		if r.ConsecutiveFailures > 0 {
			status.Failed++
			status.FailedSourceIDs = append(status.FailedSourceIDs, id)
			continue
		}
		status.Successful++
	}
	sort.Strings(status.FailedSourceIDs)
	return status
}

// LastUpdated returns the last successful fetch time per source
func (t *HealthTracker) LastUpdated() map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]time.Time, len(t.records))
	for id, r := range t.records {
		if !r.LastSuccessAt.IsZero() {
			out[id] = r.LastSuccessAt
		}
	}
	return out
}

func (t *HealthTracker) record(sourceID string) *HealthRecord {
	r, ok := t.records[sourceID]
	if !ok {
		r = &HealthRecord{}
		t.records[sourceID] = r
	}
	return r
}
