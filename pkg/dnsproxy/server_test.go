package dnsproxy

import (
	"testing"

	"github.com/miekg/dns"
)

func TestAcceptQuery(t *testing.T) {
	tests := []struct {
		name string
		dh   dns.Header
		want dns.MsgAcceptAction
	}{
		{"plain query", dns.Header{Qdcount: 1}, dns.MsgAccept},
		{"query with edns0", dns.Header{Qdcount: 1, Arcount: 1}, dns.MsgAccept},
		{"response bit set", dns.Header{Bits: 1 << 15, Qdcount: 1}, dns.MsgIgnore},
		{"notify opcode", dns.Header{Bits: uint16(dns.OpcodeNotify) << 11, Qdcount: 1}, dns.MsgIgnore},
		{"update opcode", dns.Header{Bits: uint16(dns.OpcodeUpdate) << 11, Qdcount: 1}, dns.MsgIgnore},
		{"no question", dns.Header{}, dns.MsgIgnore},
		{"two questions", dns.Header{Qdcount: 2}, dns.MsgIgnore},
		{"answers in query", dns.Header{Qdcount: 1, Ancount: 1}, dns.MsgIgnore},
		{"authority in query", dns.Header{Qdcount: 1, Nscount: 1}, dns.MsgIgnore},
		{"too many additionals", dns.Header{Qdcount: 1, Arcount: 3}, dns.MsgIgnore},
	}

	for _, tt := range tests {
		if got := acceptQuery(tt.dh); got != tt.want {
			t.Errorf("acceptQuery(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
