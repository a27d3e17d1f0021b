// Package clientip extracts the client address from a request, honoring the
// forwarding headers set by common proxies and CDNs.
//
// Headers are checked in order: CF-Connecting-IP, DO-Connecting-IP,
// X-Forwarded-For (leftmost entry), X-Real-IP, then RemoteAddr. Only the first
// parseable, specified address is returned.
//
// GetIP trusts every header and suits deployments where an edge proxy
// overwrites them. Trusted restricts header parsing to known proxies.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

var singleValueHeaders = []string{"CF-Connecting-IP", "DO-Connecting-IP"}

// GetIP returns the normalized client IP, or an empty string if none is valid.
func GetIP(r *http.Request) string {
	for _, h := range singleValueHeaders {
		if ip := parse(r.Header.Get(h)); ip != "" {
			return ip
		}
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parse(first); ip != "" {
			return ip
		}
	}

	if ip := parse(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return parse(host)
}

func parse(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}

// ParsePrefixes parses CIDR blocks or bare addresses.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// Trusted returns a resolver that reads forwarding headers only when the
// peer is one of the trusted proxies. X-Forwarded-For is then walked from
// the right and the first untrusted hop is the client. With no trusted
// proxies the peer address is always used.
func Trusted(proxies []netip.Prefix) func(*http.Request) string {
	trusted := func(ip string) bool {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range proxies {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		peer := parse(host)
		if peer == "" || !trusted(peer) {
			return peer
		}

		for _, h := range singleValueHeaders {
			if ip := parse(r.Header.Get(h)); ip != "" {
				return ip
			}
		}

		hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := parse(hops[i])
			if ip == "" {
				break
			}
			if !trusted(ip) {
				return ip
			}
		}

		if ip := parse(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		return peer
	}
}
