// Package security guards the research tools' outbound HTTP access.
//
// Model-chosen URLs reach the fetch tools unreviewed, so every request
// target is validated against SSRF: scheme and hostname statically via
// ValidateURL, resolved addresses at dial time via Transport, and
// redirect hops via Client. Validators fail closed and return errors
// the tools surface to the model verbatim.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxRedirects caps redirect chains before the client gives up.
const maxRedirects = 5

// HTTP validates outbound request targets so the research tools cannot
// be steered at internal services (SSRF). ValidateURL rejects unsafe
// URLs before a request starts; Transport re-checks the resolved IPs
// at dial time so DNS rebinding cannot slip past the early check, and
// Client re-validates every redirect hop.
//
// Blocked targets:
//   - Private ranges: 10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16, fc00::/7
//   - Loopback: 127.0.0.0/8, ::1
//   - Link-local: 169.254.0.0/16 (cloud metadata lives here), fe80::/10
//   - Unspecified, multicast and reserved addresses
//   - localhost, metadata hostnames, and the reserved private TLDs
//     .localhost, .local, .internal
type HTTP struct {
	allowedSchemes map[string]struct{}
	blockedHosts   map[string]struct{}
}

// NewHTTP creates an HTTP validator with the default blocklist.
func NewHTTP() *HTTP {
	return &HTTP{
		allowedSchemes: map[string]struct{}{
			"http":  {},
			"https": {},
		},
		blockedHosts: map[string]struct{}{
			"localhost":                {},
			"metadata.google.internal": {},
			"metadata.gce.internal":    {},
			"metadata.internal":        {},
			"metadata":                 {},
		},
	}
}

// ValidateURL checks whether a URL is safe to fetch. Hostnames pass
// static checks only; their resolved addresses are verified again by
// the dialer in Transport.
func (v *HTTP) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if _, ok := v.allowedSchemes[strings.ToLower(u.Scheme)]; !ok {
		return fmt.Errorf("unsupported scheme %q (allowed: http, https)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	return v.checkHost(host)
}

// checkHost rejects blocked hostnames and unsafe literal IPs.
func (v *HTTP) checkHost(host string) error {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))

	if _, blocked := v.blockedHosts[lower]; blocked {
		return fmt.Errorf("blocked host: %s", host)
	}
	// .localhost, .local and .internal are reserved for private use and
	// never name anything the tools should reach.
	for _, suffix := range []string{".localhost", ".local", ".internal"} {
		if strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}

	if ip := net.ParseIP(lower); ip != nil {
		return v.checkIP(ip)
	}
	return nil
}

// checkIP rejects addresses outside the public internet.
func (v *HTTP) checkIP(ip net.IP) error {
	// Normalize IPv6-mapped IPv4 (::ffff:127.0.0.1 -> 127.0.0.1).
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address not allowed: %s", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private address not allowed: %s", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		// 169.254.169.254 (cloud metadata) is in here.
		return fmt.Errorf("link-local address not allowed: %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address not allowed: %s", ip)
	case ip.IsMulticast():
		return fmt.Errorf("multicast address not allowed: %s", ip)
	}

	// 240.0.0.0/4 is reserved; nothing legitimate answers there.
	if v4 := ip.To4(); v4 != nil && v4[0] >= 240 {
		return fmt.Errorf("reserved address not allowed: %s", ip)
	}
	return nil
}

// Transport returns an http.Transport whose dialer validates resolved
// addresses before connecting, closing the DNS rebinding gap that
// static URL validation leaves open.
func (v *HTTP) Transport() *http.Transport {
	return &http.Transport{
		DialContext:         v.dialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Client returns an http.Client using the validating transport, with
// redirect targets re-validated hop by hop.
func (v *HTTP) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		Transport:     v.Transport(),
		CheckRedirect: v.checkRedirect,
	}
}

// dialContext resolves the host, verifies every returned address, and
// dials the first one directly so the checked address is the dialed
// address.
func (v *HTTP) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = ""
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := v.checkIP(ip); err != nil {
			return nil, fmt.Errorf("request blocked: %w", err)
		}
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses resolved for %s", host)
	}
	for _, ip := range ips {
		if err := v.checkIP(ip); err != nil {
			return nil, fmt.Errorf("request blocked (%s resolved to %s): %w", host, ip, err)
		}
	}

	target := ips[0].String()
	if port != "" {
		target = net.JoinHostPort(target, port)
	}
	return (&net.Dialer{}).DialContext(ctx, network, target)
}

// checkRedirect bounds the redirect chain and validates each target.
// A public landing page redirecting into a private network is the
// classic SSRF-by-redirect shape.
func (v *HTTP) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if err := v.ValidateURL(req.URL.String()); err != nil {
		return fmt.Errorf("redirect to unsafe URL: %w", err)
	}
	return nil
}
