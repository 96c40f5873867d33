package contracts

import (
	"slices"
	"time"
)

// BatchStatus is the lifecycle state of a LoadBatch
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchRunning   BatchStatus = "RUNNING"
	BatchSucceeded BatchStatus = "SUCCEEDED"
	BatchFailed    BatchStatus = "FAILED"
)

// LoadBatch is the audit record of one pipeline run
// ⭐ SSOT: 실행 이력은 Run Coordinator만 변경
type LoadBatch struct {
	BatchID           string      `json:"batch_id"`
	ScheduledFor      time.Time   `json:"scheduled_for"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        *time.Time  `json:"finished_at,omitempty"`
	AttemptCount      int         `json:"attempt_count"`
	Status            BatchStatus `json:"status"`
	PartitionsTouched []time.Time `json:"partitions_touched"`
	RowsWritten       int         `json:"rows_written"`
	Error             string      `json:"error,omitempty"`
}

// AddPartitions records committed partitions, keeping them sorted and unique
func (b *LoadBatch) AddPartitions(dates ...time.Time) {
	for _, d := range dates {
		d = TruncateDay(d)
		if !slices.ContainsFunc(b.PartitionsTouched, d.Equal) {
			b.PartitionsTouched = append(b.PartitionsTouched, d)
		}
	}
	slices.SortFunc(b.PartitionsTouched, func(a, c time.Time) int { return a.Compare(c) })
}

// PartitionKeys returns touched partitions as YYYY-MM-DD strings
func (b *LoadBatch) PartitionKeys() []string {
	keys := make([]string, 0, len(b.PartitionsTouched))
	for _, d := range b.PartitionsTouched {
		keys = append(keys, DateKey(d))
	}
	return keys
}

// LoadOutcome reports what one Load call committed
type LoadOutcome struct {
	RowsWritten       int         `json:"rows_written"`
	PartitionsTouched []time.Time `json:"partitions_touched"`
	Failed            []time.Time `json:"failed,omitempty"`
}
