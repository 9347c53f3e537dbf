package channel

import (
	"net/url"

	"github.com/pkg/errors"
)

// ResolveEndpoint turns endpoint into an absolute ws:// or wss:// URL.
//
// Absolute ws/wss endpoints pass through unchanged; http/https endpoints are
// mapped to their websocket counterparts. Scheme-relative ("//host/path") and
// path-only endpoints are resolved against origin, so a secure page yields a
// secure transport.
func ResolveEndpoint(origin, endpoint string) (string, error) {
	if endpoint == "" {
		return "", errors.New("empty endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint")
	}
	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "http", "https":
		u.Scheme = wsScheme(u.Scheme)
		return u.String(), nil
	case "":
	default:
		return "", errors.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	if origin == "" {
		return "", errors.Errorf("relative endpoint %q requires an origin", endpoint)
	}
	base, err := url.Parse(origin)
	if err != nil {
		return "", errors.Wrap(err, "parse origin")
	}
	if base.Scheme == "" || base.Host == "" {
		return "", errors.Errorf("origin %q is not an absolute URL", origin)
	}
	resolved := base.ResolveReference(u)
	resolved.Scheme = wsScheme(resolved.Scheme)
	if resolved.Scheme == "" {
		return "", errors.Errorf("cannot derive transport scheme from origin %q", origin)
	}
	return resolved.String(), nil
}

func wsScheme(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "ws"
	case "https", "wss":
		return "wss"
	}
	return ""
}
