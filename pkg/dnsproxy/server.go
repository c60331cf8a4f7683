package dnsproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"
	"dns-warden/pkg/telemetry"

	"github.com/miekg/dns"
)

// Server runs the UDP DNS listener.
type Server struct {
	cfg       *config.DNSConfig
	handler   *Handler
	logger    *logging.Logger
	metrics   *telemetry.Metrics
	udpServer *dns.Server
	running   bool
	mu        sync.RWMutex
}

// NewServer creates a new DNS server
func NewServer(cfg *config.DNSConfig, handler *Handler, logger *logging.Logger, metrics *telemetry.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

// Start runs the server until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true

	wrapped := &wrappedHandler{
		handler: s.handler,
		logger:  s.logger,
		metrics: s.metrics,
	}

	s.udpServer = &dns.Server{
		Addr:          s.cfg.Address(),
		Net:           "udp",
		Handler:       dns.HandlerFunc(wrapped.serveDNS),
		MsgAcceptFunc: acceptQuery,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting UDP DNS server", "address", s.cfg.Address())
		s.mu.RLock()
		srv := s.udpServer
		s.mu.RUnlock()
		if err := srv.ListenAndServe(); err != nil {
			errChan <- fmt.Errorf("UDP server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("DNS server shutting down")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.logger.Error("DNS server error", "error", err)
		return err
	}
}

// Shutdown gracefully shuts down the DNS server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			return fmt.Errorf("UDP shutdown: %w", err)
		}
	}

	s.running = false
	s.logger.Info("DNS server shut down")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// acceptQuery admits plain single-question queries and silently discards
// everything else. The library default would answer rejected packets with
// FORMERR; malformed datagrams get no response at all here.
func acceptQuery(dh dns.Header) dns.MsgAcceptAction {
	const qrBit = 1 << 15

	if dh.Bits&qrBit != 0 {
		return dns.MsgIgnore
	}
	if opcode := int(dh.Bits>>11) & 0xF; opcode != dns.OpcodeQuery {
		return dns.MsgIgnore
	}
	if dh.Qdcount != 1 {
		return dns.MsgIgnore
	}
	// Queries carry no answers or authority records, and at most OPT and TSIG.
	if dh.Ancount > 0 || dh.Nscount > 0 || dh.Arcount > 2 {
		return dns.MsgIgnore
	}
	return dns.MsgAccept
}

// wrappedHandler adds per-query logging and metrics around the core handler.
type wrappedHandler struct {
	handler *Handler
	logger  *logging.Logger
	metrics *telemetry.Metrics
}

func (w *wrappedHandler) serveDNS(rw dns.ResponseWriter, r *dns.Msg) {
	startTime := time.Now()
	ctx := context.Background()

	var domain string
	var qtype uint16
	if len(r.Question) > 0 {
		domain = r.Question[0].Name
		qtype = r.Question[0].Qtype
	}

	w.logger.Debug("DNS query received",
		"domain", domain,
		"type", dns.TypeToString[qtype],
	)

	if w.metrics != nil {
		w.metrics.DNSQueriesTotal.Add(ctx, 1)
	}

	w.handler.ServeDNS(ctx, rw, r)

	if w.metrics != nil {
		w.metrics.DNSQueryDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()))
	}
}
