package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver resolves the client address used for rate limiting and
// the presence auth limiter. Forwarding headers are only honored when the
// immediate peer is inside a trusted proxy range; everyone else is judged
// by their socket address.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver accepts trusted proxy entries as CIDRs or bare IPs.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}

	for _, raw := range trustedProxies {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if ip := net.ParseIP(value); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			resolver.trusted = append(resolver.trusted, &net.IPNet{
				IP:   ip,
				Mask: net.CIDRMask(bits, bits),
			})
			continue
		}

		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
		}
		resolver.trusted = append(resolver.trusted, network)
	}

	return resolver, nil
}

func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer := parseRemoteAddr(req.RemoteAddr)
	if peer == nil {
		return "unknown"
	}

	if r.isTrusted(peer) {
		if forwarded := firstForwardedIP(req.Header.Get("X-Forwarded-For")); forwarded != nil {
			return forwarded.String()
		}
		if realIP := parseIP(req.Header.Get("X-Real-IP")); realIP != nil {
			return realIP.String()
		}
	}

	return peer.String()
}

func (r *ClientIPResolver) isTrusted(ip net.IP) bool {
	for _, network := range r.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// firstForwardedIP returns the first parseable address in an
// X-Forwarded-For list, the one closest to the original client.
func firstForwardedIP(header string) net.IP {
	if header == "" {
		return nil
	}
	for _, part := range strings.Split(header, ",") {
		if ip := parseIP(part); ip != nil {
			return ip
		}
	}
	return nil
}

func parseRemoteAddr(remoteAddr string) net.IP {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return parseIP(host)
	}
	return parseIP(remoteAddr)
}

func parseIP(value string) net.IP {
	return net.ParseIP(strings.TrimSpace(value))
}
