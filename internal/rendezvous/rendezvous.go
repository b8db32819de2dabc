// Package rendezvous provides named cross-process notifiers. A process
// publishes an endpoint under a name derived from its host identity; peers
// open the endpoint by that name and post signals through it.
package rendezvous

import (
	"fmt"
	"io"

	"github.com/containerd/errdefs"

	"github.com/Paintersrp/sigrt/internal/signals"
)

var (
	// ErrNoEndpoint reports that nothing is published under the name.
	ErrNoEndpoint = fmt.Errorf("rendezvous endpoint: %w", errdefs.ErrNotFound)
	// ErrEndpointExists reports a second publish under a live name.
	ErrEndpointExists = fmt.Errorf("rendezvous endpoint: %w", errdefs.ErrAlreadyExists)
	// ErrClosed reports use of a closed handle.
	ErrClosed = fmt.Errorf("rendezvous handle closed: %w", errdefs.ErrUnavailable)
)

// Sink receives signals posted to a published endpoint. Post must not block.
type Sink interface {
	Post(sig signals.Signal)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(sig signals.Signal)

func (f SinkFunc) Post(sig signals.Signal) { f(sig) }

// Handle is an opened peer endpoint.
type Handle interface {
	Post(sig signals.Signal) error
	Close() error
}

// Rendezvous publishes and opens named endpoints.
type Rendezvous interface {
	// Publish registers sink under the name for hostID. Closing the returned
	// Closer withdraws the endpoint.
	Publish(hostID int, sink Sink) (io.Closer, error)
	// Open resolves the endpoint for hostID.
	Open(hostID int) (Handle, error)
}

// Name returns the endpoint name for a host identity.
func Name(hostID int) string {
	return fmt.Sprintf("sigrt.%d.sigcatch", hostID)
}
