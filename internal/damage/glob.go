package damage

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// isGlobPattern reports whether a configured path entry uses glob syntax
// rather than naming a literal path.
func isGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

// globToRegex translates a glob into a regex fragment: * becomes any run of
// non-whitespace, non-slash characters, ? a single such character, and every
// regex metacharacter is escaped.
func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(`[^\s/]*`)
		case '?':
			b.WriteString(`[^\s/]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// MatchPath reports whether path is covered by pattern. Glob patterns match
// the basename case-insensitively; literal patterns are prefix matches after
// tilde expansion and canonicalization.
func MatchPath(path, pattern string) bool {
	if isGlobPattern(pattern) {
		re, err := regexp.Compile(`(?i)^` + globToRegex(pattern) + `$`)
		if err != nil {
			return false
		}
		return re.MatchString(filepath.Base(path))
	}
	return literalPrefixMatch(path, pattern)
}

func literalPrefixMatch(path, pattern string) bool {
	p := canonicalPath(path)
	prefix := canonicalPath(pattern)
	if p == "" || prefix == "" {
		return false
	}
	return p == prefix || strings.HasPrefix(p, prefix+string(os.PathSeparator))
}

// canonicalPath expands ~ and resolves to a cleaned absolute form. Returns
// "" when the path cannot be resolved; callers treat that as no match.
func canonicalPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return filepath.Clean(abs)
}
