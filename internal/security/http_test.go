package security

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()
	v := NewHTTP()

	tests := []struct {
		name    string
		url     string
		wantErr bool
		errMsg  string // substring to check in error message
	}{
		// Valid public URLs
		{name: "https", url: "https://example.com/page", wantErr: false},
		{name: "http", url: "http://example.com/page", wantErr: false},
		{name: "with port", url: "https://example.com:8443/api", wantErr: false},
		{name: "with query", url: "https://arxiv.org/abs/1706.03762?fmt=txt", wantErr: false},
		{name: "uppercase scheme", url: "HTTPS://example.com", wantErr: false},
		{name: "public IP", url: "http://93.184.216.34/", wantErr: false},
		{name: "trailing dot FQDN", url: "https://example.com./page", wantErr: false},

		// Blocked schemes
		{name: "ftp", url: "ftp://example.com/file", wantErr: true, errMsg: "unsupported scheme"},
		{name: "file", url: "file:///etc/passwd", wantErr: true, errMsg: "unsupported scheme"},
		{name: "javascript", url: "javascript:alert(1)", wantErr: true, errMsg: "unsupported scheme"},
		{name: "gopher", url: "gopher://example.com", wantErr: true, errMsg: "unsupported scheme"},
		{name: "data", url: "data:text/plain,hi", wantErr: true, errMsg: "unsupported scheme"},
		{name: "schemeless", url: "example.com/page", wantErr: true, errMsg: "unsupported scheme"},

		// Blocked hostnames
		{name: "localhost", url: "http://localhost/admin", wantErr: true, errMsg: "blocked host"},
		{name: "localhost cased", url: "http://LocalHost:8080/", wantErr: true, errMsg: "blocked host"},
		{name: "localhost trailing dot", url: "http://localhost./", wantErr: true, errMsg: "blocked host"},
		{name: "gcp metadata", url: "http://metadata.google.internal/computeMetadata/v1/", wantErr: true, errMsg: "blocked host"},
		{name: "bare metadata", url: "http://metadata/", wantErr: true, errMsg: "blocked host"},
		{name: "internal suffix", url: "http://db.svc.internal/health", wantErr: true, errMsg: "blocked host"},
		{name: "local suffix", url: "http://printer.local/", wantErr: true, errMsg: "blocked host"},
		{name: "localhost suffix", url: "http://app.localhost/", wantErr: true, errMsg: "blocked host"},
		{name: "empty host", url: "http:///path", wantErr: true, errMsg: "empty hostname"},

		// Blocked literal IPs
		{name: "loopback v4", url: "http://127.0.0.1/", wantErr: true, errMsg: "loopback"},
		{name: "loopback v4 high", url: "http://127.255.255.254/", wantErr: true, errMsg: "loopback"},
		{name: "loopback v6", url: "http://[::1]:8080/", wantErr: true, errMsg: "loopback"},
		{name: "mapped loopback", url: "http://[::ffff:127.0.0.1]/", wantErr: true, errMsg: "loopback"},
		{name: "rfc1918 10", url: "http://10.0.0.5/", wantErr: true, errMsg: "private"},
		{name: "rfc1918 172", url: "http://172.16.0.1/", wantErr: true, errMsg: "private"},
		{name: "rfc1918 192", url: "http://192.168.1.1:3000/", wantErr: true, errMsg: "private"},
		{name: "ipv6 ULA", url: "http://[fd00::1]/", wantErr: true, errMsg: "private"},
		{name: "cloud metadata", url: "http://169.254.169.254/latest/meta-data/", wantErr: true, errMsg: "link-local"},
		{name: "link-local v6", url: "http://[fe80::1]/", wantErr: true, errMsg: "link-local"},
		{name: "unspecified", url: "http://0.0.0.0:8080/", wantErr: true, errMsg: "unspecified"},
		{name: "multicast", url: "http://224.0.0.1/", wantErr: true, errMsg: "multicast"},
		{name: "reserved", url: "http://240.0.0.1/", wantErr: true, errMsg: "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := v.ValidateURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateURL(%q) = nil, want error", tt.url)
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ValidateURL(%q) = %q, want substring %q", tt.url, err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateURL(%q) = %v, want nil", tt.url, err)
			}
		})
	}
}

func TestCheckIP(t *testing.T) {
	t.Parallel()
	v := NewHTTP()

	tests := []struct {
		ip      string
		wantErr bool
	}{
		{ip: "93.184.216.34", wantErr: false},
		{ip: "8.8.8.8", wantErr: false},
		{ip: "2606:4700::6810:85e5", wantErr: false},
		{ip: "127.0.0.1", wantErr: true},
		{ip: "::1", wantErr: true},
		{ip: "10.1.2.3", wantErr: true},
		{ip: "172.31.255.255", wantErr: true},
		{ip: "192.168.0.1", wantErr: true},
		{ip: "169.254.169.254", wantErr: true},
		{ip: "fe80::1", wantErr: true},
		{ip: "fc00::1", wantErr: true},
		{ip: "0.0.0.0", wantErr: true},
		{ip: "::", wantErr: true},
		{ip: "255.255.255.255", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			t.Parallel()
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("bad test IP %q", tt.ip)
			}
			err := v.checkIP(ip)
			if tt.wantErr && err == nil {
				t.Errorf("checkIP(%s) = nil, want error", tt.ip)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("checkIP(%s) = %v, want nil", tt.ip, err)
			}
		})
	}
}

func TestDialContextBlocksUnsafeTargets(t *testing.T) {
	t.Parallel()
	v := NewHTTP()
	ctx := context.Background()

	// Literal IPs are rejected before any connection attempt.
	for _, addr := range []string{"127.0.0.1:80", "10.0.0.1:443", "169.254.169.254:80"} {
		if _, err := v.dialContext(ctx, "tcp", addr); err == nil {
			t.Errorf("dialContext(%q) = nil, want error", addr)
		}
	}

	// localhost resolves to loopback, so the post-resolution check
	// rejects it even when a hostname reached the dialer.
	if _, err := v.dialContext(ctx, "tcp", "localhost:80"); err == nil {
		t.Error("dialContext(localhost:80) = nil, want error")
	}
}

func TestCheckRedirect(t *testing.T) {
	t.Parallel()
	v := NewHTTP()

	newReq := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parsing %q: %v", raw, err)
		}
		return &http.Request{URL: u}
	}

	// Safe target, short chain: allowed.
	if err := v.checkRedirect(newReq("https://example.com/paper.pdf"), make([]*http.Request, 1)); err != nil {
		t.Errorf("safe redirect rejected: %v", err)
	}

	// Redirect into a private network: blocked.
	err := v.checkRedirect(newReq("http://169.254.169.254/latest/meta-data/"), make([]*http.Request, 1))
	if err == nil || !strings.Contains(err.Error(), "redirect to unsafe URL") {
		t.Errorf("unsafe redirect error = %v, want 'redirect to unsafe URL'", err)
	}

	// Chain too long: stopped.
	err = v.checkRedirect(newReq("https://example.com/"), make([]*http.Request, maxRedirects))
	if err == nil || !strings.Contains(err.Error(), "redirects") {
		t.Errorf("long chain error = %v, want redirect cap", err)
	}
}

func TestClientConfiguration(t *testing.T) {
	t.Parallel()
	v := NewHTTP()

	client := v.Client(90 * time.Second)
	if client.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", client.Timeout)
	}
	if client.CheckRedirect == nil {
		t.Error("CheckRedirect is nil")
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport is %T, want *http.Transport", client.Transport)
	}
	if transport.DialContext == nil {
		t.Error("DialContext is nil, dial-time validation not wired")
	}
}
