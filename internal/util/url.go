package util

import (
	"net/url"
	"strings"
)

// ForumOrigin is prepended to root-relative thread links.
const ForumOrigin = "https://forums.redflagdeals.com"

// AbsoluteURL rewrites a root-relative href ("/deal-123/") onto origin.
// Anything else, including already absolute links, is returned unchanged.
func AbsoluteURL(origin, href string) string {
	if strings.HasPrefix(href, "/") {
		return strings.TrimRight(origin, "/") + href
	}
	return href
}

// HostAllowed reports whether rawURL is an http(s) URL whose hostname is
// exactly one of allowed.
func HostAllowed(rawURL string, allowed []string) (bool, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false, nil
	}
	hostname := parsedURL.Hostname()
	for _, d := range allowed {
		if hostname == d {
			return true, nil
		}
	}
	return false, nil
}
