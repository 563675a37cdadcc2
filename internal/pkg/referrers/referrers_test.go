package referrers

import "testing"

func TestLabel(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		// Full URLs reduce to their source
		{"https://news.ycombinator.com/item?id=1", "Hacker News"},
		{"https://www.google.com/search?q=analytics", "Google"},
		{"http://t.co/abc123", "X/Twitter"},

		// Bare hostnames
		{"google.com", "Google"},
		{"x.com", "X/Twitter"},
		{"reddit.com", "Reddit"},
		{"linkedin.com", "LinkedIn"},

		// With www prefix
		{"www.google.com", "Google"},
		{"www.reddit.com", "Reddit"},

		// Subdomains of known referrers
		{"m.facebook.com", "Facebook"},
		{"mobile.twitter.com", "X/Twitter"},

		// Unknown referrers (capitalized, www. stripped)
		{"example.com", "Example.com"},
		{"https://www.example.com/post", "Example.com"},
		{"myblog.io", "Myblog.io"},

		// Case insensitive
		{"GOOGLE.COM", "Google"},
		{"News.Ycombinator.Com", "Hacker News"},

		// Empty stays empty for the caller's default
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Label(tt.raw)
			if got != tt.expected {
				t.Errorf("Label(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}
