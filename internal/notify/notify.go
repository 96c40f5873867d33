package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
)

// Log writes run notifications to the structured log
type Log struct {
	logger *logger.Logger
}

// NewLog creates a log notifier
func NewLog(log *logger.Logger) *Log {
	return &Log{logger: log.WithField("module", "notify")}
}

// Notify logs n at info (SUCCEEDED) or error (FAILED) level
func (l *Log) Notify(ctx context.Context, n contracts.Notification) error {
	entry := l.logger.WithFields(map[string]interface{}{
		"batch_id":      n.BatchID,
		"status":        n.Status,
		"scheduled_for": n.ScheduledFor,
		"rows_written":  n.RowsWritten,
		"partitions":    strings.Join(n.PartitionsTouched, ","),
		"attempts":      n.AttemptCount,
	})
	if n.Status == contracts.BatchFailed {
		entry.WithField("error", n.Error).Error("ETL run failed")
		return nil
	}
	entry.Info("ETL run succeeded")
	return nil
}

// Multi fans a notification out to every target.
// All targets are attempted; their errors are joined.
type Multi []contracts.Notifier

// Notify sends n to each notifier
func (m Multi) Notify(ctx context.Context, n contracts.Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", target, err))
		}
	}
	return errors.Join(errs...)
}
