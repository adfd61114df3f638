package errors

import (
	"context"
	"errors"
	"net"
)

// FromTransport classifies a failure to talk to the upstream API. Deadline and
// network timeouts become KindUpstreamTimeout, anything else KindUpstreamUnreachable.
func FromTransport(message string, err error) *GatewayError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return New(KindUpstreamTimeout, message, err)
	}
	return New(KindUpstreamUnreachable, message, err)
}
