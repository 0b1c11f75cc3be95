// Package classify maps URL paths to their routing class. Everything here
// is a pure function over the path string; no I/O, no request state.
package classify

import (
	"regexp"
	"strings"
)

// AuthAPIPrefix is the identity-provider API mount point. Traffic under it
// always passes: the gate must never block its own authentication backend.
const AuthAPIPrefix = "/api/auth/"

var publicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/[a-z]{2}/?$`),               // locale root
	regexp.MustCompile(`^/[a-z]{2}/about$`),
	regexp.MustCompile(`^/[a-z]{2}/contact$`),
	regexp.MustCompile(`^/[a-z]{2}/products`),
	regexp.MustCompile(`^/[a-z]{2}/categories`),
	regexp.MustCompile(`^/[a-z]{2}/search`),
	regexp.MustCompile(`^/[a-z]{2}/signin$`),
	regexp.MustCompile(`^/[a-z]{2}/signup$`),
	regexp.MustCompile(`^/[a-z]{2}/forgot-password$`),
	regexp.MustCompile(`^/[a-z]{2}/reset-password$`),
	regexp.MustCompile(`^/api/auth/`),
	regexp.MustCompile(`^/api/public/`),
}

var protectedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/[a-z]{2}/checkout`),
	regexp.MustCompile(`^/[a-z]{2}/profile`),
	regexp.MustCompile(`^/[a-z]{2}/orders`),
	regexp.MustCompile(`^/[a-z]{2}/settings`),
	regexp.MustCompile(`^/[a-z]{2}/dashboard`),
	regexp.MustCompile(`^/[a-z]{2}/complete-profile`),
	regexp.MustCompile(`^/api/protected/`),
}

var localeSegment = regexp.MustCompile(`^/([a-z]{2})(/|$)`)

// IsStaticOrInternal reports framework-internal and asset paths. These
// bypass the whole pipeline and always win over any other classification.
func IsStaticOrInternal(path string) bool {
	return strings.HasPrefix(path, "/_next/") ||
		strings.HasPrefix(path, "/api/_") ||
		strings.Contains(path, ".")
}

// IsAuthAPIRoute reports identity-provider API traffic.
func IsAuthAPIRoute(path string) bool {
	return strings.HasPrefix(path, AuthAPIPrefix)
}

// HasLocalePrefix reports whether the first path segment is one of the
// supported locale codes.
func HasLocalePrefix(path string, locales []string) bool {
	for _, l := range locales {
		if path == "/"+l || strings.HasPrefix(path, "/"+l+"/") {
			return true
		}
	}
	return false
}

// Locale returns the two-letter locale segment of the path, or "".
func Locale(path string) string {
	m := localeSegment.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsPublicPath matches the fixed allow-list of pages that never require
// authentication.
func IsPublicPath(path string) bool {
	for _, re := range publicPatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// IsProtectedPath matches pages that require a valid session.
func IsProtectedPath(path string) bool {
	for _, re := range protectedPatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// IsAuthPage reports the sign-in/sign-up/complete-profile pages, used to
// redirect already-authenticated users away.
func IsAuthPage(path string) bool {
	return strings.Contains(path, "/signin") ||
		strings.Contains(path, "/signup") ||
		strings.Contains(path, "/complete-profile")
}

// IsCompleteProfilePage reports the complete-profile page itself.
func IsCompleteProfilePage(path string) bool {
	return strings.Contains(path, "/complete-profile")
}

// Localize prefixes path with the locale unless it is already there.
func Localize(path, locale string) string {
	if path == "" {
		path = "/"
	}
	if path == "/"+locale || strings.HasPrefix(path, "/"+locale+"/") {
		return path
	}
	if path == "/" {
		return "/" + locale
	}
	return "/" + locale + path
}
