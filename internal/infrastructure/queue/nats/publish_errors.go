package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/papertrellis/internal/infrastructure/resilience"
)

// Publish only writes into the client buffer, so what comes back is either
// the connection state or a problem with the message itself.
var (
	// The connection is down or catching up; the buffer may drain soon.
	connectionErrors = []error{
		nats.ErrNoServers,
		nats.ErrTimeout,
		nats.ErrDisconnected,
		nats.ErrConnectionClosed,
		nats.ErrConnectionReconnecting,
		nats.ErrConnectionDraining,
		nats.ErrStaleConnection,
		nats.ErrReconnectBufExceeded,
		nats.ErrSlowConsumer,
	}
	// The event is unpublishable as built; the broker is not to blame.
	messageErrors = []error{
		nats.ErrMaxPayload,
		nats.ErrBadSubject,
		nats.ErrInvalidMsg,
	}
)

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), isAny(err, connectionErrors):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case isAny(err, messageErrors):
		return resilience.ErrorClassification{}
	default:
		// Authorization and anything unknown count against the breaker.
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
