// Package origin validates browser Origin headers for WebSocket upgrades.
//
// The default policy is same-host only. Deployments that serve the frontend
// from a different origin set ALLOWED_ORIGINS to an explicit list (or "*").
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates and normalizes a browser Origin header into
// scheme://host[:port] form (default ports elided) plus the bare host[:port]
// for same-host comparisons.
//
// The special Origin value "null" is allowed and returned as-is.
func Normalize(originHeader string) (normalized string, host string, ok bool) {
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

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}

	port := 0
	if raw := u.Port(); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 65535 {
			return "", "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.Itoa(port)
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether the normalized origin may access the given request
// host.
//
// When allowedOrigins is non-empty each entry must be "*" or a normalized
// origin string. Otherwise the policy is same-host only; scheme is not
// compared because the hub may sit behind a TLS-terminating proxy.
func Allowed(normalized, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalized {
				return true
			}
		}
		return false
	}

	if normalized == "null" {
		return false
	}

	return originHost == normalizeRequestHost(requestHost, strings.HasPrefix(normalized, "https://"))
}

// CheckRequest applies Normalize+Allowed to a request's Origin header.
// Requests without an Origin header (non-browser clients) are allowed.
func CheckRequest(originHeader, requestHost string, allowedOrigins []string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	normalized, host, ok := Normalize(originHeader)
	if !ok {
		return false
	}
	return Allowed(normalized, host, requestHost, allowedOrigins)
}

func normalizeRequestHost(requestHost string, https bool) string {
	trimmed := strings.ToLower(strings.TrimSpace(requestHost))
	if trimmed == "" {
		return ""
	}

	hostname, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		hostname, port = trimmed, ""
	}
	hostname = strings.Trim(hostname, "[]")

	if (https && port == "443") || (!https && port == "80") {
		port = ""
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host = host + ":" + port
	}
	return host
}
