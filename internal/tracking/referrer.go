package tracking

import (
	"net/url"
	"strings"
)

const (
	ReferrerDirect      = "direct"
	ReferrerKnownDomain = "known_domain"
	ReferrerUnknown     = "unknown"
)

var knownReferrerDomains = []string{
	"google.com", "bing.com", "duckduckgo.com", "yahoo.com",
	"github.com", "linkedin.com", "twitter.com", "facebook.com",
}

// classifyReferrer maps the raw referrer URL to the coarse referrer
// enumeration. Same-host navigation counts as direct.
func classifyReferrer(referrer, ownHost string) string {
	if referrer == "" {
		return ReferrerDirect
	}

	parsed, err := url.Parse(referrer)
	if err != nil || parsed.Hostname() == "" {
		return ReferrerUnknown
	}

	host := parsed.Hostname()
	if host == ownHost {
		return ReferrerDirect
	}

	for _, domain := range knownReferrerDomains {
		if strings.Contains(host, domain) {
			return ReferrerKnownDomain
		}
	}

	return ReferrerUnknown
}
