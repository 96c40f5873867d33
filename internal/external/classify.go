// Package external holds the HTTP source adapters and their shared error classification.
package external

import (
	"context"
	"errors"
	"net"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/httputil"
)

// Classify maps a transport or decode failure onto the stage error taxonomy.
// Context cancellation is returned unchanged so the coordinator can tell it apart.
//
//	network error, 429, 5xx      → SourceUnavailable
//	other 4xx, undecodable body  → SourceSchemaChanged
func Classify(source contracts.SourceID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var srcErr *contracts.SourceError
	if errors.As(err, &srcErr) {
		return err
	}

	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return contracts.Unavailable(source, err)
		}
		return contracts.SchemaChanged(source, err)
	}

	var decodeErr *httputil.DecodeError
	if errors.As(err, &decodeErr) {
		return contracts.SchemaChanged(source, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return contracts.Unavailable(source, err)
	}

	// Unknown transport failures are assumed transient
	return contracts.Unavailable(source, err)
}
