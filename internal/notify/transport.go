package notify

import (
	"context"
	"errors"
)

var (
	// ErrUnlinkedAccount means the recipient has no transport address.
	// Terminal: the job completes without delivery and is not retried.
	ErrUnlinkedAccount = errors.New("recipient has no linked chat account")

	// ErrTransport wraps transient delivery failures. Retryable.
	ErrTransport = errors.New("transport send failed")
)

// Transport is the outbound chat-delivery channel. addr is the recipient
// handle resolved from the member record. Implementations should honor
// the context deadline; a timeout is treated as a retryable failure.
type Transport interface {
	Send(ctx context.Context, addr, text string, button *Button) error
}
