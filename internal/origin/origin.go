// Package origin validates browser Origin headers against the relay's
// allow-list. Entries may be explicit origins, "*", or private-network CIDR
// prefixes so clinicians can reach a relay on the LAN during on-site testing.
package origin

import (
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port]) and the host[:port]
// portion for same-host comparisons.
//
// The special Origin value "null" is allowed and returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether the normalized origin may access the given
// request host.
//
// When the allow-list is non-empty, each entry is either "*", a normalized
// origin string (as produced by NormalizeHeader), or a CIDR prefix that is
// matched against the origin's hostname when it is an IP literal. With an
// empty allow-list the default policy is same-host only.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		for _, entry := range allowed {
			if entry == "*" || entry == normalizedOrigin {
				return true
			}
			if prefix, err := netip.ParsePrefix(entry); err == nil && hostInPrefix(originHost, prefix) {
				return true
			}
		}
		return false
	}

	// Default: same host:port. Scheme is intentionally not compared because
	// the relay may sit behind a TLS-terminating reverse proxy and see the
	// request as HTTP while the browser Origin is HTTPS.
	scheme := ""
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		// "null" cannot match a host-based request; anything else indicates a
		// bug since callers normalize first.
		return false
	}

	normalizedRequestHost, ok := normalizeHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return false
	}
	return originHost == normalizedRequestHost
}

// hostInPrefix reports whether host[:port] is an IP literal inside the prefix.
// Hostnames are never matched against CIDR entries.
func hostInPrefix(host string, prefix netip.Prefix) bool {
	hostname, _, ok := splitHostPort(host)
	if !ok {
		return false
	}
	addr, err := netip.ParseAddr(hostname)
	if err != nil {
		return false
	}
	return prefix.Contains(addr.Unmap())
}

// normalizeHost canonicalizes an authority host[:port]: the hostname is
// lowercased, IPv6 literals keep their brackets, and the scheme's default
// port is stripped.
func normalizeHost(rawHost, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(rawHost)
	if !ok {
		return "", false
	}

	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 || n > 65535 {
			return "", false
		}
		port = n
	}

	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port] string.
//
// The hostname is returned without brackets for IPv6 literals. The port is
// returned as-is (not validated) and will be empty when absent.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", false
		}
		port = rest[1:]
		if port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		parts := strings.SplitN(rawHost, ":", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return parts[0], parts[1], true
	default:
		// Unbracketed IPv6 literals are not valid in the authority component.
		return "", "", false
	}
}
