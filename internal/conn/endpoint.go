package conn

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPath is the socket path served next to the web UI.
const DefaultPath = "/ws/"

// Endpoint resolves the socket URL. A non-empty override is used verbatim;
// otherwise the server's http/https scheme maps to ws/wss on DefaultPath.
// A bare host is treated as http.
func Endpoint(server, override string) (string, error) {
	if override != "" {
		u, err := url.Parse(override)
		if err != nil {
			return "", fmt.Errorf("parse endpoint %q: %w", override, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("endpoint %q: scheme must be ws or wss", override)
		}
		return override, nil
	}

	if server == "" {
		return "", fmt.Errorf("no server or endpoint configured")
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server %q: %w", server, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server %q has no host", server)
	}

	scheme := "ws"
	switch u.Scheme {
	case "https", "wss":
		scheme = "wss"
	case "http", "ws":
	default:
		return "", fmt.Errorf("server %q: unsupported scheme %q", server, u.Scheme)
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: DefaultPath}).String(), nil
}
