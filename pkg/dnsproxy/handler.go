// Package dnsproxy answers DNS queries: blacklisted domains get a sinkhole
// answer, everything else is relayed to the upstream resolver, and unknown
// domains are offered to the classification queue on the side.
package dnsproxy

import (
	"context"
	"errors"
	"net"

	"dns-warden/pkg/classify"
	"dns-warden/pkg/hostname"
	"dns-warden/pkg/logging"
	"dns-warden/pkg/storage"
	"dns-warden/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/miekg/dns"
)

// blockTTL is the TTL on synthesized sinkhole answers.
const blockTTL = 60

// sinkholeIP is the address returned for blocked domains.
var sinkholeIP = net.IPv4(0, 0, 0, 0)

// Forwarder relays a raw DNS packet upstream.
type Forwarder interface {
	Forward(ctx context.Context, query []byte) ([]byte, error)
}

// Handler resolves DNS queries against the domain lists.
type Handler struct {
	store     storage.Store
	forwarder Forwarder
	queue     *classify.Queue
	metrics   *telemetry.Metrics
	logger    *logging.Logger
}

// NewHandler creates a DNS query handler.
func NewHandler(store storage.Store, fwd Forwarder, queue *classify.Queue, metrics *telemetry.Metrics, logger *logging.Logger) *Handler {
	return &Handler{
		store:     store,
		forwarder: fwd,
		queue:     queue,
		metrics:   metrics,
		logger:    logger.With("component", "dns"),
	}
}

// ServeDNS handles one query. The decision is made on the first question's
// name; datagrams without a question are dropped without a response.
func (h *Handler) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		h.logger.Debug("Dropping query without a question section")
		return
	}

	qname := r.Question[0].Name
	domain := hostname.Canonical(qname)

	status := h.decide(ctx, domain)
	h.recordLog(ctx, domain, status)

	if h.metrics != nil {
		h.metrics.DNSQueriesByStatus.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", string(status))))
	}

	if status == storage.StatusBlocked {
		h.writeBlocked(w, r)
		return
	}

	h.forward(ctx, w, r)

	if status == storage.StatusReviewed {
		h.offerForClassification(ctx, domain)
	}
}

// decide maps the domain's active list entries to a query status. A store
// failure falls through to reviewed: the query is still answered from
// upstream, and a later query retries the lookup.
func (h *Handler) decide(ctx context.Context, domain string) storage.Status {
	entries, err := h.store.ListActive(ctx, domain)
	if err != nil {
		h.logger.Warn("List lookup failed, treating domain as unknown",
			"domain", domain,
			"error", err,
		)
		return storage.StatusReviewed
	}

	status := storage.StatusReviewed
	for _, entry := range entries {
		switch entry.ListType {
		case storage.ListTypeBlacklist:
			// Blacklist wins over whitelist.
			return storage.StatusBlocked
		case storage.ListTypeWhitelist:
			status = storage.StatusAllowed
		}
	}
	return status
}

// recordLog appends the decision to the domain log. Logging never blocks or
// fails a query.
func (h *Handler) recordLog(ctx context.Context, domain string, status storage.Status) {
	err := h.store.AppendLog(ctx, &storage.DomainLog{
		Domain: domain,
		Status: status,
	})
	if err == nil {
		return
	}

	if h.metrics != nil {
		h.metrics.LogAppendFailures.Add(ctx, 1)
	}
	if errors.Is(err, storage.ErrBufferFull) {
		h.logger.Debug("Domain log buffer full, dropping record", "domain", domain)
		return
	}
	h.logger.Warn("Failed to record domain log", "domain", domain, "error", err)
}

// writeBlocked answers with the sinkhole address. The same A answer is
// synthesized whatever the query type, so AAAA and TXT lookups for blocked
// domains resolve to nothing useful either.
func (h *Handler) writeBlocked(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Answer = append(m.Answer, &dns.A{
		Hdr: dns.RR_Header{
			Name:   r.Question[0].Name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    blockTTL,
		},
		A: sinkholeIP,
	})

	if err := w.WriteMsg(m); err != nil {
		h.logger.Warn("Failed to write sinkhole response", "error", err)
	}

	if h.metrics != nil {
		h.metrics.DNSBlockedQueries.Add(context.Background(), 1)
	}
}

// forward relays the raw query upstream and writes the upstream's bytes back
// unchanged, answer, authority, EDNS records and all.
func (h *Handler) forward(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) {
	raw, err := r.Pack()
	if err != nil {
		h.logger.Warn("Failed to repack query", "error", err)
		h.writeServFail(w, r)
		return
	}

	resp, err := h.forwarder.Forward(ctx, raw)
	if err != nil {
		if h.metrics != nil {
			h.metrics.UpstreamFailures.Add(ctx, 1)
		}
		h.logger.Warn("Upstream exchange failed",
			"domain", r.Question[0].Name,
			"error", err,
		)
		h.writeServFail(w, r)
		return
	}

	if _, err := w.Write(resp); err != nil {
		h.logger.Warn("Failed to write upstream response", "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.DNSForwardedQueries.Add(ctx, 1)
	}
}

func (h *Handler) writeServFail(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetRcode(r, dns.RcodeServerFailure)
	if err := w.WriteMsg(m); err != nil {
		h.logger.Warn("Failed to write SERVFAIL", "error", err)
	}
}

// offerForClassification hands an unknown domain to the background
// classifier. Queue pressure never delays the DNS answer.
func (h *Handler) offerForClassification(ctx context.Context, domain string) {
	if h.queue == nil {
		return
	}
	if !hostname.Valid(domain) {
		h.logger.Debug("Not classifying invalid hostname", "domain", domain)
		return
	}

	result := h.queue.Offer(domain)
	if h.metrics != nil {
		h.metrics.QueueOffers.Add(ctx, 1,
			metric.WithAttributes(attribute.String("outcome", result.String())))
	}

	switch result {
	case classify.OfferAccepted:
		h.logger.Debug("Domain queued for classification", "domain", domain)
	case classify.OfferFull:
		h.logger.Warn("Classification queue full, domain skipped", "domain", domain)
	}
}
