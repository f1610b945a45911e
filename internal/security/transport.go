// Package security hardens outbound webhook delivery against SSRF.
//
// User-supplied webhook URLs must never let the delivery worker reach
// internal infrastructure: cloud metadata endpoints, localhost, or private
// network ranges. The Blocklist validates every resolved IP at dial time
// and on every redirect hop, which also defeats DNS rebinding.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// dnsTimeout bounds DNS resolution during dial and redirect validation.
const dnsTimeout = 500 * time.Millisecond

var (
	// ErrBlockedAddress is returned when a request targets a blocked IP range.
	ErrBlockedAddress = errors.New("ssrf: request to blocked IP range")

	// ErrDNSTimeout is returned when DNS resolution exceeds the timeout.
	ErrDNSTimeout = errors.New("ssrf: DNS resolution timeout")

	// ErrDNSFailed is returned when DNS resolution fails entirely.
	ErrDNSFailed = errors.New("ssrf: DNS resolution failed")

	// ErrTooManyRedirects is returned when the redirect limit is exceeded.
	ErrTooManyRedirects = errors.New("ssrf: too many redirects")
)

// blockedCIDRs are the address ranges webhook deliveries must never reach.
var blockedCIDRs = []string{
	"127.0.0.0/8",    // localhost
	"10.0.0.0/8",     // private class A
	"172.16.0.0/12",  // private class B
	"192.168.0.0/16", // private class C
	"169.254.0.0/16", // link-local, includes cloud metadata
	"0.0.0.0/8",      // current network
	"224.0.0.0/4",    // multicast
	"240.0.0.0/4",    // reserved
	"100.64.0.0/10",  // shared address space (CGN)
	"198.18.0.0/15",  // benchmark testing
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Blocklist holds the parsed blocked CIDR ranges and performs all SSRF
// checks against them.
type Blocklist struct {
	nets     []*net.IPNet
	resolver Resolver
}

// NewBlocklist parses the built-in blocked ranges. A nil resolver uses
// net.DefaultResolver.
func NewBlocklist(resolver Resolver) (*Blocklist, error) {
	nets := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("ssrf: parsing CIDR %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Blocklist{nets: nets, resolver: resolver}, nil
}

// Blocked reports whether the IP falls inside any blocked range.
func (b *Blocklist) Blocked(ip net.IP) bool {
	for _, n := range b.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckHost validates a hostname or IP literal. Hostnames are resolved with
// a strict timeout and every resolved address must be allowed before the
// check passes; a single blocked address in the answer fails the whole host.
func (b *Blocklist) CheckHost(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if b.Blocked(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, ip.String())
		}
		return nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := b.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}
	for _, a := range addrs {
		if b.Blocked(a.IP) {
			return fmt.Errorf("%w: %s (resolved from %s)", ErrBlockedAddress, a.IP.String(), host)
		}
	}
	return nil
}

// CheckURL validates a webhook URL before it is accepted for delivery.
func (b *Blocklist) CheckURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("%w: unable to extract host from URL", ErrBlockedAddress)
	}
	return b.CheckHost(ctx, parsed.Hostname())
}

// DialContext validates the target before dialing. Hostnames are resolved
// once here and the connection goes to a vetted address, so the dial cannot
// race a second DNS answer.
func (b *Blocklist) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}

	dialer := &net.Dialer{}
	if ip := net.ParseIP(host); ip != nil {
		if b.Blocked(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, ip.String())
		}
		return dialer.DialContext(ctx, network, addr)
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := b.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}
	for _, a := range addrs {
		if b.Blocked(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlockedAddress, a.IP.String(), host)
		}
	}

	return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].IP.String(), port))
}

// checkRedirect enforces the redirect limit and re-validates every hop.
func (b *Blocklist) checkRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlockedAddress)
		}
		return b.CheckHost(req.Context(), host)
	}
}

// NewSafeHTTPClient builds the http.Client the webhook transport uses:
// blocklist-validated dials, bounded redirects with per-hop validation, and
// an overall request timeout.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int) (*http.Client, error) {
	bl, err := NewBlocklist(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport:     &http.Transport{DialContext: bl.DialContext},
		Timeout:       timeout,
		CheckRedirect: bl.checkRedirect(maxRedirects),
	}, nil
}
