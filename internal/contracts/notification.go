package contracts

import "time"

// Notification is the terminal-state message of a run
type Notification struct {
	Status            BatchStatus `json:"status"`
	BatchID           string      `json:"batch_id"`
	ScheduledFor      time.Time   `json:"scheduled_for"`
	RowsWritten       int         `json:"rows_written"`
	PartitionsTouched []string    `json:"partitions_touched"`
	AttemptCount      int         `json:"attempt_count"`
	Error             string      `json:"error,omitempty"`
	FinishedAt        time.Time   `json:"finished_at"`
}

// NotificationFor builds the notification of a terminal batch
func NotificationFor(b *LoadBatch) Notification {
	n := Notification{
		Status:            b.Status,
		BatchID:           b.BatchID,
		ScheduledFor:      b.ScheduledFor,
		RowsWritten:       b.RowsWritten,
		PartitionsTouched: b.PartitionKeys(),
		AttemptCount:      b.AttemptCount,
		Error:             b.Error,
	}
	if b.FinishedAt != nil {
		n.FinishedAt = *b.FinishedAt
	}
	return n
}
