// Package referrers groups raw referer URLs into stable display labels so
// the hourly counters aggregate per source instead of per full URL.
package referrers

import (
	"net/url"
	"strings"
)

// Known referrer hostnames mapped to friendly display names
var knownReferrers = map[string]string{
	// Search engines
	"google.com":     "Google",
	"bing.com":       "Bing",
	"duckduckgo.com": "DuckDuckGo",
	"yahoo.com":      "Yahoo",
	"baidu.com":      "Baidu",
	"yandex.ru":      "Yandex",
	"ecosia.org":     "Ecosia",
	"kagi.com":       "Kagi",

	// Social media
	"x.com":           "X/Twitter",
	"twitter.com":     "X/Twitter",
	"t.co":            "X/Twitter",
	"facebook.com":    "Facebook",
	"fb.com":          "Facebook",
	"instagram.com":   "Instagram",
	"linkedin.com":    "LinkedIn",
	"lnkd.in":         "LinkedIn",
	"tiktok.com":      "TikTok",
	"pinterest.com":   "Pinterest",
	"reddit.com":      "Reddit",
	"threads.net":     "Threads",
	"bsky.app":        "Bluesky",
	"mastodon.social": "Mastodon",
	"youtube.com":     "YouTube",
	"youtu.be":        "YouTube",
	"t.me":            "Telegram",

	// Tech communities
	"news.ycombinator.com": "Hacker News",
	"hn.algolia.com":       "Hacker News",
	"lobste.rs":            "Lobsters",
	"producthunt.com":      "Product Hunt",
	"dev.to":               "DEV Community",
	"medium.com":           "Medium",
	"substack.com":         "Substack",
	"github.com":           "GitHub",
	"gitlab.com":           "GitLab",
	"stackoverflow.com":    "Stack Overflow",

	// Link shorteners
	"bit.ly":      "Bitly",
	"tinyurl.com": "TinyURL",
}

// Label maps a raw referer value to its display label. Full URLs reduce to
// their hostname, known hostnames to a friendly name, and subdomains follow
// their parent. An empty referer stays empty so callers can apply their own
// default.
func Label(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	hostname := raw
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		hostname = u.Hostname()
	}
	return friendlyName(hostname)
}

// friendlyName resolves a bare hostname against the known referrer table.
func friendlyName(hostname string) string {
	hostname = strings.ToLower(hostname)

	if name, ok := knownReferrers[hostname]; ok {
		return name
	}

	hostname = strings.TrimPrefix(hostname, "www.")
	if name, ok := knownReferrers[hostname]; ok {
		return name
	}

	for domain, name := range knownReferrers {
		if strings.HasSuffix(hostname, "."+domain) {
			return name
		}
	}

	return capitalizeFirst(hostname)
}

// capitalizeFirst capitalizes the first letter of a string
func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
