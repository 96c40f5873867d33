package contracts

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Stage errors inspected by the Run Coordinator with errors.Is / errors.As
// ⭐ SSOT: 재시도/중단 판단 기준은 이 에러들로만
var (
	// Transient: retried within the run, scoped to the failing source
	ErrSourceUnavailable = errors.New("source unavailable")
	// Permanent: the upstream response no longer matches what the adapter understands
	ErrSourceSchemaChanged = errors.New("source schema changed")
	// Transient: retried for the failed partitions only
	ErrLoadPartial = errors.New("load partially committed")
	// Permanent: rows or warehouse schema mismatch
	ErrLoadRejected = errors.New("load rejected")

	ErrRunInProgress = errors.New("run already in progress for interval")
	ErrBatchNotFound = errors.New("batch not found")
)

// SourceError is a typed fetch failure of one source adapter
type SourceError struct {
	Source SourceID
	Kind   error // ErrSourceUnavailable or ErrSourceSchemaChanged
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps err as a transient failure of source
func Unavailable(source SourceID, err error) error {
	return &SourceError{Source: source, Kind: ErrSourceUnavailable, Err: err}
}

// SchemaChanged wraps err as a permanent failure of source
func SchemaChanged(source SourceID, err error) error {
	return &SourceError{Source: source, Kind: ErrSourceSchemaChanged, Err: err}
}

// LoadPartialError lists which partitions committed and which failed
type LoadPartialError struct {
	Committed []time.Time
	Failed    []time.Time
	Err       error // last partition failure
}

func (e *LoadPartialError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for _, d := range e.Failed {
		failed = append(failed, DateKey(d))
	}
	msg := fmt.Sprintf("%v: %d committed, failed [%s]", ErrLoadPartial, len(e.Committed), strings.Join(failed, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadPartialError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLoadPartial}
	}
	return []error{ErrLoadPartial, e.Err}
}

// FailedSet returns the failed partitions keyed by YYYY-MM-DD
func (e *LoadPartialError) FailedSet() map[string]bool {
	set := make(map[string]bool, len(e.Failed))
	for _, d := range e.Failed {
		set[DateKey(d)] = true
	}
	return set
}

// Rejected wraps err as a permanent load failure
func Rejected(err error) error {
	return fmt.Errorf("%w: %w", ErrLoadRejected, err)
}

// IsTransient reports whether err may succeed on a scoped retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrLoadPartial)
}

// IsPermanent reports whether err must abort the run
func IsPermanent(err error) bool {
	return slices.ContainsFunc([]error{ErrSourceSchemaChanged, ErrLoadRejected}, func(target error) bool {
		return errors.Is(err, target)
	})
}
