package contracts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
	}{
		{
			name:      "unavailable",
			err:       Unavailable(SourceEquity, io.ErrUnexpectedEOF),
			transient: true,
		},
		{
			name:      "schema changed",
			err:       SchemaChanged(SourceCrypto, errors.New("missing field")),
			permanent: true,
		},
		{
			name:      "wrapped unavailable",
			err:       fmt.Errorf("fetch: %w", Unavailable(SourceNews, nil)),
			transient: true,
		},
		{
			name:      "load partial",
			err:       &LoadPartialError{Failed: []time.Time{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}},
			transient: true,
		},
		{
			name:      "load rejected",
			err:       Rejected(errors.New("unknown column")),
			permanent: true,
		},
		{
			name: "cancelled",
			err:  context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}

func TestSourceError_UnwrapsCause(t *testing.T) {
	err := Unavailable(SourceEquity, io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.NotErrorIs(t, err, ErrSourceSchemaChanged)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, SourceEquity, srcErr.Source)
	assert.Contains(t, err.Error(), "EQUITY")
}

func TestLoadPartialError(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	err := &LoadPartialError{
		Committed: []time.Time{d1},
		Failed:    []time.Time{d2},
		Err:       errors.New("connection reset"),
	}

	var partial *LoadPartialError
	require.ErrorAs(t, fmt.Errorf("load: %w", err), &partial)
	assert.Equal(t, map[string]bool{"2024-03-02": true}, partial.FailedSet())
	assert.Contains(t, err.Error(), "2024-03-02")
	assert.Contains(t, err.Error(), "connection reset")
}
