// FILE: chatwisp/src/internal/limit/ip.go
package limit

import (
	"net"
	"strings"
	"sync/atomic"

	"chatwisp/src/internal/config"

	"github.com/lixenwraith/log"
)

// IPChecker handles IP-based access control lists
type IPChecker struct {
	ipWhitelist []*net.IPNet
	ipBlacklist []*net.IPNet
	logger      *log.Logger

	totalDenied atomic.Uint64
}

// Creates an IPChecker. Returns nil if no rules are defined.
func NewIPChecker(cfg *config.NetAccessConfig, logger *log.Logger) *IPChecker {
	if cfg == nil || (len(cfg.IPWhitelist) == 0 && len(cfg.IPBlacklist) == 0) {
		return nil
	}

	c := &IPChecker{
		ipWhitelist: parseRules(cfg.IPWhitelist, "whitelist", logger),
		ipBlacklist: parseRules(cfg.IPBlacklist, "blacklist", logger),
		logger:      logger,
	}

	logger.Info("msg", "IP checker initialized",
		"component", "ip_checker",
		"whitelist_rules", len(c.ipWhitelist),
		"blacklist_rules", len(c.ipBlacklist))

	return c
}

// Accepts plain addresses or CIDR ranges, skipping invalid entries
func parseRules(entries []string, list string, logger *log.Logger) []*net.IPNet {
	rules := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, ipNet, err := net.ParseCIDR(entry); err == nil {
				rules = append(rules, ipNet)
				continue
			}
		} else if ip := net.ParseIP(entry); ip != nil {
			if ip.To4() != nil {
				rules = append(rules, &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)})
			} else {
				rules = append(rules, &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)})
			}
			continue
		}
		logger.Warn("msg", "Skipping invalid IP "+list+" entry",
			"component", "ip_checker",
			"entry", entry)
	}
	return rules
}

// Validates if a remote address is permitted
func (c *IPChecker) IsAllowed(remoteAddr net.Addr) bool {
	if c == nil {
		return true
	}

	var ipStr string
	switch addr := remoteAddr.(type) {
	case *net.TCPAddr:
		ipStr = addr.IP.String()
	case *net.UDPAddr:
		ipStr = addr.IP.String()
	default:
		if remoteAddr == nil {
			return false
		}
		addrStr := remoteAddr.String()
		host, _, err := net.SplitHostPort(addrStr)
		if err != nil {
			ipStr = addrStr
		} else {
			ipStr = host
		}
	}

	return c.IsAllowedIP(ipStr)
}

// Validates a textual IP
func (c *IPChecker) IsAllowedIP(ipStr string) bool {
	if c == nil {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		c.totalDenied.Add(1)
		c.logger.Warn("msg", "Could not parse remote address to IP",
			"component", "ip_checker",
			"remote_addr", ipStr)
		return false
	}

	// Deny takes precedence
	for _, ipNet := range c.ipBlacklist {
		if ipNet.Contains(ip) {
			c.totalDenied.Add(1)
			c.logger.Warn("msg", "Blacklisted IP denied",
				"component", "ip_checker",
				"ip", ipStr,
				"rule", ipNet.String())
			return false
		}
	}

	if len(c.ipWhitelist) > 0 {
		for _, ipNet := range c.ipWhitelist {
			if ipNet.Contains(ip) {
				return true
			}
		}
		c.totalDenied.Add(1)
		c.logger.Warn("msg", "IP not in whitelist",
			"component", "ip_checker",
			"ip", ipStr)
		return false
	}

	return true
}

// GetStats returns IP checker statistics
func (c *IPChecker) GetStats() map[string]any {
	if c == nil {
		return map[string]any{"enabled": false}
	}

	return map[string]any{
		"enabled":         true,
		"whitelist_rules": len(c.ipWhitelist),
		"blacklist_rules": len(c.ipBlacklist),
		"total_denied":    c.totalDenied.Load(),
	}
}
