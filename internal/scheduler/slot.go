package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the 6-field (seconds) format and descriptors like @daily
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// maxSlotSearch bounds how far back NominalSlot looks for an activation
const maxSlotSearch = 400 * 24 * time.Hour

// ParseSchedule validates a cron expression
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

// NominalSlot returns the latest activation of spec at or before at, in UTC.
// A trigger that fires a little late still maps onto the interval it was
// scheduled for.
func NominalSlot(spec string, at time.Time) (time.Time, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return time.Time{}, err
	}
	at = at.UTC()

	for lookback := time.Hour; lookback <= maxSlotSearch; lookback *= 2 {
		next := sched.Next(at.Add(-lookback))
		if next.IsZero() || next.After(at) {
			continue
		}

		slot := next
		for {
			next = sched.Next(slot)
			if next.IsZero() || next.After(at) {
				return slot.UTC(), nil
			}
			slot = next
		}
	}

	return time.Time{}, fmt.Errorf("schedule %q has no activation before %s", spec, at.Format(time.RFC3339))
}

// ResolveSlot turns a user-supplied slot into a scheduled time.
// Empty means the current nominal slot, RFC 3339 is taken as is, and a bare
// date (YYYY-MM-DD) means the last activation on that day.
func ResolveSlot(spec, raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return NominalSlot(spec, now)
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}

	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot %q (expected RFC 3339 or YYYY-MM-DD)", raw)
	}

	slot, err := NominalSlot(spec, day.Add(24*time.Hour-time.Second))
	if err != nil {
		return time.Time{}, err
	}
	if slot.Before(day) {
		return time.Time{}, fmt.Errorf("schedule %q has no activation on %s", spec, raw)
	}
	return slot, nil
}
