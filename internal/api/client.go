package api

import (
	"net"
	"net/http"
	"strings"
)

// ClientAddress returns the address a request is rate limited by. The
// proxy header is only honoured when the deployment sits behind a trusted
// proxy; its first entry is the original client.
func ClientAddress(r *http.Request, trustProxy bool, header string) string {
	if trustProxy && header != "" {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
