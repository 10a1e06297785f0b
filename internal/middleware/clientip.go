package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ipHeaders are consulted in order when resolving the real client address
// behind proxies and CDNs.
var ipHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Forwarded",
	"X-Cluster-Client-IP",
	"Forwarded-For",
	"Forwarded",
}

// ResolveClientIP returns the first header candidate that parses as a public
// address, falling back to the transport-layer peer. Multi-value headers
// contribute their first entry only.
func ResolveClientIP(r *http.Request) string {
	for _, header := range ipHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		candidate := strings.TrimSpace(strings.Split(value, ",")[0])
		// RFC 7239 Forwarded: for=1.2.3.4;proto=https
		if strings.Contains(candidate, "=") {
			for _, part := range strings.Split(candidate, ";") {
				part = strings.TrimSpace(part)
				if strings.HasPrefix(strings.ToLower(part), "for=") {
					candidate = strings.Trim(part[4:], `"[]`)
				}
			}
		}
		if addr, err := netip.ParseAddr(candidate); err == nil && isPublicAddr(addr) {
			return addr.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isPublicAddr(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// SessionID extracts the caller's session identifier: the X-Session-ID
// header, falling back to the admin session cookie.
func SessionID(r *http.Request) string {
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	if cookie, err := r.Cookie("admin_session"); err == nil {
		return cookie.Value
	}
	return ""
}
