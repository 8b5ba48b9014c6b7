package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"
)

// maxReply is the largest reply read from the echo service. The longest
// dotted IPv4 address is 15 bytes.
const maxReply = 16

// ErrInvalidReply is returned when the echo service answers with something
// that is not an IP address.
var ErrInvalidReply = errors.New("probe: reply is not an IP address")

// TCPProber connects to a service that writes the caller's address and
// closes, such as ns1.dnspod.net:6666.
type TCPProber struct {
	Address string
	Timeout time.Duration

	dialer net.Dialer
}

// NewTCPProber returns a TCPProber for address whose connect and read are
// bounded by timeout.
func NewTCPProber(address string, timeout time.Duration) *TCPProber {
	return &TCPProber{Address: address, Timeout: timeout}
}

// CurrentIP implements Prober. It performs one connect and one read of at
// most 16 bytes.
func (p *TCPProber) CurrentIP(ctx context.Context) (string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return "", fmt.Errorf("probe: dial %s: %w", p.Address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return "", fmt.Errorf("probe: set deadline: %w", err)
		}
	}

	buf := make([]byte, maxReply)
	n, err := conn.Read(buf)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return "", fmt.Errorf("probe: read %s: %w", p.Address, err)
	}

	text := strings.TrimSpace(string(buf[:n]))
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidReply, text)
	}
	// A full buffer can only hold a whole address if it is IPv4.
	if n == maxReply && addr.Is6() {
		return "", fmt.Errorf("%w: %q possibly truncated", ErrInvalidReply, text)
	}
	return addr.String(), nil
}
