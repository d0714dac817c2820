package title

import (
	"net/url"
	"strings"
)

// DefaultRestrictedSchemes lists url schemes whose documents refuse script
// injection from the host.
var DefaultRestrictedSchemes = []string{
	"about",
	"brave",
	"chrome",
	"chrome-extension",
	"chrome-search",
	"chrome-untrusted",
	"devtools",
	"edge",
	"view-source",
}

// Restricted reports whether rawURL uses one of schemes. Unparseable urls are
// treated as restricted.
func Restricted(rawURL string, schemes []string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range schemes {
		if scheme == strings.ToLower(strings.TrimSuffix(s, ":")) {
			return true
		}
	}
	return false
}
