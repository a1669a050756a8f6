package authcore

import (
	"strconv"
	"strings"
)

// nativeClientMarkers are user-agent substrings produced by the HTTP
// stacks of native mobile apps. Browser user agents never contain them
// without also identifying as a full browser.
var nativeClientMarkers = []string{
	"okhttp",
	"dalvik",
	"cfnetwork",
	"darwin",
}

// isMobileClient classifies a login by its transport metadata. An empty
// user agent is treated as non-mobile, which subjects it to the stricter
// single-session policy rather than the laxer mobile one.
func isMobileClient(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return false
	}
	if strings.Contains(ua, "mozilla/") {
		return false
	}
	for _, marker := range nativeClientMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// clientVersion is a parsed dot-separated release identifier.
type clientVersion []int

// parseClientVersion parses strings like "2.14.0". Empty strings, empty
// components, signs, and non-digit characters are all rejected.
func parseClientVersion(v string) (clientVersion, error) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil, ErrClientVersionInvalid
	}

	parts := strings.Split(trimmed, ".")
	parsed := make(clientVersion, 0, len(parts))
	for _, p := range parts {
		if p == "" || !isNumericString(p) {
			return nil, ErrClientVersionInvalid
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, ErrClientVersionInvalid
		}
		parsed = append(parsed, n)
	}
	return parsed, nil
}

// compare returns -1, 0, or 1 ordering v against other. Missing
// components compare as zero, so "1.2" equals "1.2.0".
func (v clientVersion) compare(other clientVersion) int {
	n := len(v)
	if len(other) > n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(v) {
			a = v[i]
		}
		if i < len(other) {
			b = other[i]
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// checkClientVersion enforces the minimum-version gate for mobile logins.
// Non-mobile logins pass unconditionally. The gate runs before any
// session work, so a rejected login never disturbs existing sessions.
func (e *Engine) checkClientVersion(userAgent, rawVersion string) error {
	if e.minMobileVersion == nil {
		return nil
	}
	if !isMobileClient(userAgent) {
		return nil
	}

	v, err := parseClientVersion(rawVersion)
	if err != nil {
		return ErrClientVersionInvalid
	}
	if v.compare(e.minMobileVersion) < 0 {
		return ErrClientVersionTooOld
	}
	return nil
}
