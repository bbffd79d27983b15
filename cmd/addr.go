package cmd

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// parseServeAddr resolves the listen address for the serve command.
// The configured server_host and server_port provide the default;
// a positional argument or an --addr flag overrides it:
//   - libris serve :8080
//   - libris serve --addr 0.0.0.0:8080
func parseServeAddr(defaultAddr string) (string, error) {
	serveFlags := flag.NewFlagSet("serve", flag.ContinueOnError)
	serveFlags.SetOutput(os.Stderr)

	addr := serveFlags.String("addr", defaultAddr, "Listen address (host:port)")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}

	// Positional form first (libris serve :8080).
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		*addr = args[0]
		args = args[1:]
	}

	if err := serveFlags.Parse(args); err != nil {
		return "", fmt.Errorf("parsing serve flags: %w", err)
	}

	if err := validateAddr(*addr); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", *addr, err)
	}

	return *addr, nil
}

// validateAddr checks the host:port shape before the address reaches
// net/http, where a malformed value would only fail at bind time.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}

	// Hostnames pass through to the resolver, but whitespace is never
	// valid in one.
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " \t\r\n") {
		return fmt.Errorf("invalid host %q", host)
	}

	if port == "" {
		return errors.New("port is required")
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port must be 0-65535 (0 = auto-assign), got %d", n)
	}

	return nil
}
