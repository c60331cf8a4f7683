package forwarder

import (
	"context"
	"fmt"
	"net"
	"time"

	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"
)

// maxUDPResponse is the largest UDP payload we accept from upstream.
// Large enough for EDNS0 responses.
const maxUDPResponse = 4096

// Forwarder relays raw DNS packets to a single UDP upstream.
type Forwarder struct {
	upstream string
	timeout  time.Duration
	logger   *logging.Logger
}

// NewForwarder creates a forwarder for the configured upstream server.
func NewForwarder(cfg *config.UpstreamConfig, logger *logging.Logger) *Forwarder {
	upstream := cfg.Server
	if _, _, err := net.SplitHostPort(upstream); err != nil {
		upstream = net.JoinHostPort(upstream, "53")
	}

	f := &Forwarder{
		upstream: upstream,
		timeout:  cfg.Timeout,
		logger:   logger,
	}

	logger.Info("Forwarder initialized",
		"upstream", upstream,
		"timeout", f.timeout,
	)

	return f
}

// Upstream returns the upstream server address.
func (f *Forwarder) Upstream() string {
	return f.upstream
}

// Forward sends the raw query to the upstream and returns the raw response
// unchanged. The response transaction ID must match the query's; datagrams
// with a different ID are stale answers to earlier queries on a reused port
// and are skipped. No retries: one timeout window, then the error surfaces.
func (f *Forwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	if len(query) < 12 {
		return nil, fmt.Errorf("query too short: %d bytes", len(query))
	}

	conn, err := net.Dial("udp", f.upstream)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", f.upstream, err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(f.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("write to upstream %s: %w", f.upstream, err)
	}

	buf := make([]byte, maxUDPResponse)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read from upstream %s: %w", f.upstream, err)
		}
		if n < 12 {
			f.logger.Debug("Dropping short upstream datagram", "bytes", n)
			continue
		}
		if buf[0] != query[0] || buf[1] != query[1] {
			f.logger.Debug("Dropping upstream datagram with mismatched transaction ID")
			continue
		}

		resp := make([]byte, n)
		copy(resp, buf[:n])
		return resp, nil
	}
}
