package stepgen

import (
	"regexp"
	"strings"
)

// allowedLinkHosts is the closed set of hosts a generated reply may
// reference; anything else is stripped rather than shown to the user.
var allowedLinkHosts = map[string]struct{}{
	"support.example.com": {},
	"wa.me":                {},
}

var urlPattern = regexp.MustCompile(`https?://[^\s)]+`)

// sanitizeReply applies the post-generation pipeline (spec.md §4.9):
// strip links outside the allow-list, collapse resulting blank runs,
// truncate to the configured max length.
func sanitizeReply(reply string) string {
	reply = stripDisallowedLinks(reply)
	reply = collapseBlankLines(reply)
	reply = strings.TrimSpace(reply)
	return truncate(reply, maxReplyLength)
}

func stripDisallowedLinks(text string) string {
	return urlPattern.ReplaceAllStringFunc(text, func(u string) string {
		if hostAllowed(u) {
			return u
		}
		return ""
	})
}

func hostAllowed(rawURL string) bool {
	rest := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	host := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		host = rest[:i]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	_, ok := allowedLinkHosts[strings.ToLower(host)]
	return ok
}

var blankRunPattern = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(text string) string {
	return blankRunPattern.ReplaceAllString(text, "\n\n")
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	const ellipsis = "…"
	return strings.TrimSpace(text[:max-len(ellipsis)]) + ellipsis
}
