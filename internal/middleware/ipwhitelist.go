package middleware

import (
	"context"
	"net/netip"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubify/adminguard/internal/audit"
	"github.com/clubify/adminguard/internal/config"
)

// IPWhitelist gates admin routes by client address. Entries may be exact
// addresses, CIDR blocks (IPv4 or IPv6) or wildcard patterns like 10.0.*.*.
type IPWhitelist struct {
	cfg    map[string]config.WhitelistConfig
	audit  *audit.Logger
	logger *zap.Logger
}

// NewIPWhitelist creates the whitelist middleware over the per-config-key map.
func NewIPWhitelist(cfg map[string]config.WhitelistConfig, auditLogger *audit.Logger, logger *zap.Logger) *IPWhitelist {
	return &IPWhitelist{cfg: cfg, audit: auditLogger, logger: logger}
}

// Handler returns the gin middleware for the given config key. A disabled
// key, an unknown key or an empty list all pass every address through.
func (w *IPWhitelist) Handler(configKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, enabled := w.entries(configKey)
		if !enabled || len(entries) == 0 {
			c.Next()
			return
		}

		clientIP := ResolveClientIP(c.Request)
		if w.isWhitelisted(clientIP, entries) {
			w.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
				Event:     "authorized_ip_access",
				ClientIP:  clientIP,
				SessionID: SessionID(c.Request),
				UserAgent: c.Request.UserAgent(),
				Metadata:  map[string]interface{}{"config_key": configKey},
			})
			c.Next()
			return
		}

		w.audit.LogSecurityEvent(c.Request.Context(), audit.Entry{
			Event:     "ip_not_whitelisted",
			ClientIP:  clientIP,
			SessionID: SessionID(c.Request),
			UserAgent: c.Request.UserAgent(),
			Metadata: map[string]interface{}{
				"config_key": configKey,
				"path":       c.Request.URL.Path,
			},
		})
		deny(c, 403, "Access denied", "ip_not_whitelisted")
	}
}

// entries resolves the comma-separated whitelist for a config key into a
// trimmed, non-empty list.
func (w *IPWhitelist) entries(configKey string) ([]string, bool) {
	wc, ok := w.cfg[configKey]
	if !ok || !wc.Enabled {
		return nil, false
	}
	var out []string
	for _, entry := range strings.Split(wc.Addresses, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out, true
}

// isWhitelisted tests the candidate against each entry: exact match first,
// then CIDR containment, then wildcard. First match wins.
func (w *IPWhitelist) isWhitelisted(clientIP string, entries []string) bool {
	for _, entry := range entries {
		if clientIP == entry {
			return true
		}
		if strings.Contains(entry, "/") && ipInRange(clientIP, entry) {
			return true
		}
		if strings.Contains(entry, "*") && wildcardMatch(clientIP, entry) {
			return true
		}
	}
	return false
}

// ipInRange reports CIDR containment for IPv4 and IPv6 blocks alike.
func ipInRange(ip, cidr string) bool {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return prefix.Contains(addr.Unmap())
}

// wildcardMatch translates entries like 192.168.*.* into a digit-class
// pattern with literal dots.
func wildcardMatch(ip, pattern string) bool {
	escaped := strings.ReplaceAll(pattern, ".", `\.`)
	escaped = strings.ReplaceAll(escaped, "*", `\d+`)
	matched, err := regexp.MatchString("^"+escaped+"$", ip)
	return err == nil && matched
}

// AddToWhitelist records an operator's intent to extend the list. Persistence
// lives in the configuration pipeline, not here.
func (w *IPWhitelist) AddToWhitelist(ctx context.Context, configKey, entry string) {
	w.logger.Info("whitelist addition requested",
		zap.String("config_key", configKey),
		zap.String("entry", entry))
	w.audit.LogConfigurationChange(ctx, audit.Entry{
		Event:    "whitelist_addition_requested",
		Metadata: map[string]interface{}{"config_key": configKey, "entry": entry},
	})
}

// WhitelistStats reports entry counts by type for a config key.
func (w *IPWhitelist) WhitelistStats(configKey string) map[string]int {
	stats := map[string]int{"exact": 0, "cidr": 0, "wildcard": 0}
	entries, _ := w.entries(configKey)
	for _, entry := range entries {
		switch {
		case strings.Contains(entry, "/"):
			stats["cidr"]++
		case strings.Contains(entry, "*"):
			stats["wildcard"]++
		default:
			stats["exact"]++
		}
	}
	return stats
}
