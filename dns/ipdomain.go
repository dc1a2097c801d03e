package dns

import (
	"net"
)

// IPDomain is an ip address, a domain, or empty.
type IPDomain struct {
	IP     net.IP
	Domain Domain
}

// ParseIPDomain parses s as an IP address, or otherwise as a domain name.
func ParseIPDomain(s string) (IPDomain, error) {
	if ip := net.ParseIP(s); ip != nil {
		return IPDomain{IP: ip}, nil
	}
	d, err := ParseDomain(s)
	if err != nil {
		return IPDomain{}, err
	}
	return IPDomain{Domain: d}, nil
}

// IsZero returns if both IP and Domain are zero.
func (d IPDomain) IsZero() bool {
	return d.IP == nil && d.Domain == Domain{}
}

// String returns a string representation of either the IP or domain (with
// UTF-8).
func (d IPDomain) String() string {
	if len(d.IP) > 0 {
		return d.IP.String()
	}
	return d.Domain.Name()
}

// LogString returns a string with both ASCII-only and optional UTF-8
// representation.
func (d IPDomain) LogString() string {
	if len(d.IP) > 0 {
		return d.IP.String()
	}
	return d.Domain.LogString()
}

func (d IPDomain) IsIP() bool {
	return len(d.IP) > 0
}

func (d IPDomain) IsDomain() bool {
	return !d.Domain.IsZero()
}
