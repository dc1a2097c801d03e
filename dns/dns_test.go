package dns

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
)

func TestParseDomain(t *testing.T) {
	test := func(s string, exp Domain, expErr error) {
		t.Helper()
		dom, err := ParseDomain(s)
		if (err == nil) != (expErr == nil) || expErr != nil && !errors.Is(err, expErr) {
			t.Fatalf("parse domain %q: err %v, expected %v", s, err, expErr)
		}
		if expErr == nil && dom != exp {
			t.Fatalf("parse domain %q: got %#v, expected %#v", s, dom, exp)
		}
	}

	// We rely on normalization of names when dialing and for TLS server names.
	test("pop.example.com", Domain{"pop.example.com", ""}, nil)
	test("POP.EXAMPLE.COM", Domain{"pop.example.com", ""}, nil)
	test("☺.example", Domain{"xn--74h.example", "☺.example"}, nil)
	test("pop.example.com.", Domain{}, errTrailingDot)
}

func TestParseIPDomain(t *testing.T) {
	ipd, err := ParseIPDomain("10.0.0.1")
	if err != nil || !ipd.IsIP() || ipd.IsDomain() || ipd.String() != "10.0.0.1" {
		t.Fatalf("parse ip: got %#v, err %v", ipd, err)
	}
	ipd, err = ParseIPDomain("Pop.Example")
	if err != nil || ipd.IsIP() || !ipd.IsDomain() || ipd.String() != "pop.example" {
		t.Fatalf("parse domain: got %#v, err %v", ipd, err)
	}
	if _, err := ParseIPDomain("pop.example."); err == nil {
		t.Fatalf("parse domain with trailing dot: expected error")
	}
}

func TestMockResolver(t *testing.T) {
	ctxbg := context.Background()
	r := MockResolver{
		A:    map[string][]string{"pop.example.": {"10.0.0.1"}},
		AAAA: map[string][]string{"pop.example.": {"2001:db8::1"}},
		Fail: []string{"ipaddr temp.example."},
	}

	ips, _, err := r.LookupIPAddr(ctxbg, "pop.example.")
	exp := []net.IPAddr{{IP: net.ParseIP("10.0.0.1")}, {IP: net.ParseIP("2001:db8::1")}}
	if err != nil || !reflect.DeepEqual(ips, exp) {
		t.Fatalf("lookup ipaddr: got %v, err %v, expected %v", ips, err, exp)
	}

	if _, _, err := r.LookupIPAddr(ctxbg, "absent.example."); !IsNotFound(err) {
		t.Fatalf("lookup absent name: got err %v, expected not found", err)
	}
	if _, _, err := r.LookupIPAddr(ctxbg, "temp.example."); err == nil || IsNotFound(err) {
		t.Fatalf("lookup failing name: got err %v, expected temporary error", err)
	}
}

func TestStrictResolverRelative(t *testing.T) {
	var r StrictResolver
	if _, _, err := r.LookupIPAddr(context.Background(), "pop.example"); !errors.Is(err, ErrRelativeDNSName) {
		t.Fatalf("lookup relative name: got err %v, expected ErrRelativeDNSName", err)
	}
}
