package dnsproxy

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"dns-warden/pkg/classify"
	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"
	"dns-warden/pkg/storage"

	"github.com/miekg/dns"
)

type fakeForwarder struct {
	resp  []byte
	err   error
	calls int
}

func (f *fakeForwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	// Echo a minimal reply with the same transaction ID.
	var q dns.Msg
	if err := q.Unpack(query); err != nil {
		return nil, err
	}
	m := new(dns.Msg)
	m.SetReply(&q)
	return m.Pack()
}

// testWriter is a dns.ResponseWriter capturing what the handler writes.
type testWriter struct {
	msg      *dns.Msg
	rawBytes []byte
}

func (w *testWriter) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}
}

func (w *testWriter) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (w *testWriter) WriteMsg(m *dns.Msg) error {
	w.msg = m
	return nil
}

func (w *testWriter) Write(b []byte) (int, error) {
	w.rawBytes = b
	var m dns.Msg
	if err := m.Unpack(b); err == nil {
		w.msg = &m
	}
	return len(b), nil
}

func (w *testWriter) Close() error        { return nil }
func (w *testWriter) TsigStatus() error   { return nil }
func (w *testWriter) TsigTimersOnly(bool) {}
func (w *testWriter) Hijack()             {}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()

	store, err := storage.NewSQLiteStore(&config.StorageConfig{
		DatabasePath:  filepath.Join(t.TempDir(), "test.db"),
		LogBufferSize: 100,
		FlushInterval: 10 * time.Millisecond,
		BatchSize:     10,
	}, nil, logging.NewDefault())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newTestHandler(t *testing.T, store storage.Store, fwd Forwarder) (*Handler, *classify.Queue) {
	t.Helper()
	queue := classify.NewQueue(16)
	return NewHandler(store, fwd, queue, nil, logging.NewDefault()), queue
}

func query(domain string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	return m
}

func insertEntry(t *testing.T, store storage.Store, domain string, listType storage.ListType, source storage.Source, expires *time.Time) {
	t.Helper()
	err := store.InsertEntry(context.Background(), &storage.ListEntry{
		Domain:    domain,
		ListType:  listType,
		Source:    source,
		ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("InsertEntry(%s) error = %v", domain, err)
	}
}

func waitForLog(t *testing.T, store storage.Store, domain string) *storage.DomainLog {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		logs, _, err := store.ListLogs(context.Background(), 0, 100, "")
		if err != nil {
			t.Fatalf("ListLogs() error = %v", err)
		}
		for _, l := range logs {
			if l.Domain == domain {
				return l
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log of %s", domain)
	return nil
}

func TestBlacklistedDomainIsSinkholed(t *testing.T) {
	store := newTestStore(t)
	insertEntry(t, store, "bad.com.", storage.ListTypeBlacklist, storage.SourceManual, nil)

	fwd := &fakeForwarder{}
	h, queue := newTestHandler(t, store, fwd)

	w := &testWriter{}
	h.ServeDNS(context.Background(), w, query("bad.com", dns.TypeA))

	if w.msg == nil {
		t.Fatal("no response written")
	}
	if len(w.msg.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(w.msg.Answer))
	}
	a, ok := w.msg.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("answer type = %T, want *dns.A", w.msg.Answer[0])
	}
	if !a.A.Equal(net.IPv4(0, 0, 0, 0)) {
		t.Errorf("answer IP = %v, want 0.0.0.0", a.A)
	}
	if a.Hdr.Ttl != 60 {
		t.Errorf("answer TTL = %d, want 60", a.Hdr.Ttl)
	}
	if fwd.calls != 0 {
		t.Errorf("forwarder called %d times for blocked domain, want 0", fwd.calls)
	}
	if queue.Len() != 0 {
		t.Errorf("blocked domain was queued for classification")
	}

	if log := waitForLog(t, store, "bad.com."); log.Status != storage.StatusBlocked {
		t.Errorf("log status = %s, want blocked", log.Status)
	}
}

func TestBlockedAnswerForNonAQueries(t *testing.T) {
	store := newTestStore(t)
	insertEntry(t, store, "bad.com.", storage.ListTypeBlacklist, storage.SourceManual, nil)

	h, _ := newTestHandler(t, store, &fakeForwarder{})

	for _, qtype := range []uint16{dns.TypeAAAA, dns.TypeMX, dns.TypeTXT} {
		w := &testWriter{}
		h.ServeDNS(context.Background(), w, query("bad.com", qtype))

		if w.msg == nil || len(w.msg.Answer) != 1 {
			t.Fatalf("qtype %s: no sinkhole answer", dns.TypeToString[qtype])
		}
		if _, ok := w.msg.Answer[0].(*dns.A); !ok {
			t.Errorf("qtype %s: answer type = %T, want *dns.A", dns.TypeToString[qtype], w.msg.Answer[0])
		}
	}
}

func TestWhitelistedDomainIsForwarded(t *testing.T) {
	store := newTestStore(t)
	insertEntry(t, store, "good.com.", storage.ListTypeWhitelist, storage.SourceManual, nil)

	fwd := &fakeForwarder{}
	h, queue := newTestHandler(t, store, fwd)

	w := &testWriter{}
	h.ServeDNS(context.Background(), w, query("good.com", dns.TypeA))

	if fwd.calls != 1 {
		t.Errorf("forwarder called %d times, want 1", fwd.calls)
	}
	if w.rawBytes == nil {
		t.Error("upstream response should be written as raw bytes")
	}
	if queue.Len() != 0 {
		t.Error("whitelisted domain should not be queued for classification")
	}

	if log := waitForLog(t, store, "good.com."); log.Status != storage.StatusAllowed {
		t.Errorf("log status = %s, want allowed", log.Status)
	}
}

func TestUnknownDomainIsForwardedAndQueued(t *testing.T) {
	store := newTestStore(t)

	fwd := &fakeForwarder{}
	h, queue := newTestHandler(t, store, fwd)

	w := &testWriter{}
	h.ServeDNS(context.Background(), w, query("unknown.com", dns.TypeA))

	if fwd.calls != 1 {
		t.Errorf("forwarder called %d times, want 1", fwd.calls)
	}
	if queue.Len() != 1 {
		t.Errorf("queue length = %d, want 1", queue.Len())
	}
	if d, ok := queue.Take(context.Background()); !ok || d != "unknown.com." {
		t.Errorf("queued domain = %q, want unknown.com.", d)
	}

	if log := waitForLog(t, store, "unknown.com."); log.Status != storage.StatusReviewed {
		t.Errorf("log status = %s, want reviewed", log.Status)
	}
}

func TestExpiredEntryIsTreatedAsUnknown(t *testing.T) {
	store := newTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	insertEntry(t, store, "stale.com.", storage.ListTypeBlacklist, storage.SourceLLM, &past)

	fwd := &fakeForwarder{}
	h, queue := newTestHandler(t, store, fwd)

	w := &testWriter{}
	h.ServeDNS(context.Background(), w, query("stale.com", dns.TypeA))

	if fwd.calls != 1 {
		t.Error("expired blacklist entry should not block")
	}
	if queue.Len() != 1 {
		t.Error("domain with expired entry should be re-queued for classification")
	}
}

func TestUpstreamFailureYieldsServFail(t *testing.T) {
	store := newTestStore(t)

	fwd := &fakeForwarder{err: errors.New("upstream timeout")}
	h, _ := newTestHandler(t, store, fwd)

	w := &testWriter{}
	h.ServeDNS(context.Background(), w, query("unknown.com", dns.TypeA))

	if w.msg == nil {
		t.Fatal("no response written")
	}
	if w.msg.Rcode != dns.RcodeServerFailure {
		t.Errorf("rcode = %d, want SERVFAIL", w.msg.Rcode)
	}
}

func TestEmptyQuestionIsDropped(t *testing.T) {
	store := newTestStore(t)

	h, _ := newTestHandler(t, store, &fakeForwarder{})

	w := &testWriter{}
	h.ServeDNS(context.Background(), w, new(dns.Msg))

	if w.msg != nil || w.rawBytes != nil {
		t.Error("query without a question should not get a response")
	}
}

func TestInvalidHostnameIsNotQueued(t *testing.T) {
	store := newTestStore(t)

	fwd := &fakeForwarder{}
	h, queue := newTestHandler(t, store, fwd)

	// Single-label names fail hostname validation but are still forwarded.
	w := &testWriter{}
	h.ServeDNS(context.Background(), w, query("localhost", dns.TypeA))

	if fwd.calls != 1 {
		t.Error("invalid hostname should still be forwarded")
	}
	if queue.Len() != 0 {
		t.Error("invalid hostname should not be queued for classification")
	}
}

func TestCaseAndTrailingDotNormalization(t *testing.T) {
	store := newTestStore(t)
	insertEntry(t, store, "bad.com.", storage.ListTypeBlacklist, storage.SourceManual, nil)

	h, _ := newTestHandler(t, store, &fakeForwarder{})

	w := &testWriter{}
	h.ServeDNS(context.Background(), w, query("BAD.COM", dns.TypeA))

	if w.msg == nil || len(w.msg.Answer) != 1 {
		t.Fatal("uppercase query for blacklisted domain should be sinkholed")
	}
}
