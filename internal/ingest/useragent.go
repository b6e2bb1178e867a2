package ingest

import (
	"regexp"
	"strings"
)

const (
	BrowserChrome  = "chrome"
	BrowserFirefox = "firefox"
	BrowserSafari  = "safari"
	BrowserEdge    = "edge"
	BrowserOther   = "other"

	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceOther   = "other"
)

var (
	mobilePattern = regexp.MustCompile(`(?i)mobile|android|iphone|ipad|ipod`)
	tabletPattern = regexp.MustCompile(`(?i)ipad|tablet`)
)

// NormalizeUserAgent classifies a user-agent string into the coarse
// browser and device enumerations. Unmatched strings fall back to
// "other"; anything that is not clearly mobile counts as desktop.
func NormalizeUserAgent(ua string) (browserFamily, deviceType string) {
	if ua == "" {
		return BrowserOther, DeviceOther
	}

	lower := strings.ToLower(ua)

	browserFamily = BrowserOther
	switch {
	case strings.Contains(lower, "edg"):
		browserFamily = BrowserEdge
	case strings.Contains(lower, "chrome"):
		browserFamily = BrowserChrome
	case strings.Contains(lower, "firefox"):
		browserFamily = BrowserFirefox
	case strings.Contains(lower, "safari"):
		browserFamily = BrowserSafari
	}

	deviceType = DeviceDesktop
	if mobilePattern.MatchString(ua) {
		if tabletPattern.MatchString(ua) {
			deviceType = DeviceTablet
		} else {
			deviceType = DeviceMobile
		}
	}

	return browserFamily, deviceType
}
