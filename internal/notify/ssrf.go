package notify

import (
	"fmt"
	"net"
	"net/url"
)

// ValidateWebhookURL enforces the security guard from §4.11: scheme must be
// http/https, and every resolved address must be a public, routable IP —
// private, loopback, link-local, unspecified, multicast, and the reserved
// IPv4 block 240.0.0.0/4 (including broadcast) are rejected.
// Grounded on the original notifier's `_validate_webhook_url`; net/ip range
// checks have no third-party equivalent in the pack, so this stays stdlib.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url scheme %q is not http/https", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook url has no host")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve webhook host %q: %w", host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("webhook host %q resolved to no addresses", host)
	}
	for _, ip := range ips {
		if !isPublicIP(ip) {
			return fmt.Errorf("webhook host %q resolves to a non-public address %s", host, ip)
		}
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsUnspecified(),
		ip.IsMulticast():
		return false
	}
	if ip4 := ip.To4(); ip4 != nil && ip4[0] >= 240 {
		return false
	}
	return true
}
