// Package probe defines the Prober interface for discovering the host's
// current public IP address.
package probe

import "context"

// Prober reports the address the outside world sees for this host.
type Prober interface {
	// CurrentIP returns the current public IP address as text. A non-nil
	// error means the cycle has no usable address.
	CurrentIP(ctx context.Context) (string, error)
}
