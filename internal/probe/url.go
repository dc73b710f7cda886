package probe

import (
	"net"
	"net/url"
	"strings"
)

// DefaultBackendURL is used whenever the configured backend URL is blank or
// cannot be parsed.
const DefaultBackendURL = "http://127.0.0.1:6185/"

var knownDefaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// NormalizeBackendURL trims raw, substitutes DefaultBackendURL for blank or
// unparsable values and ensures the path is at least "/".
func NormalizeBackendURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultBackendURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return DefaultBackendURL
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String()
}

// hostPort returns the host name and port of u, falling back to the scheme's
// well known port (or 80) when none is given.
func hostPort(u *url.URL) (string, string, bool) {
	host := u.Hostname()
	if host == "" {
		return "", "", false
	}
	port := u.Port()
	if port == "" {
		port = knownDefaultPorts[strings.ToLower(u.Scheme)]
	}
	if port == "" {
		port = "80"
	}
	return host, port, true
}

func hostHeader(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func joinAddr(ip, port string) string {
	return net.JoinHostPort(ip, port)
}
