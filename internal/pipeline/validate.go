package pipeline

import (
	"net/url"
	"strings"
)

// ValidCallbackURL reports whether raw is an absolute URL with both a scheme
// and a host.
func ValidCallbackURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
