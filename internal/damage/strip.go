package damage

import (
	"regexp"
	"strings"
)

// heredocOperator matches a heredoc operator and captures the delimiter,
// quoted or bare.
var heredocOperator = regexp.MustCompile(`<<-?\s*(?:"([A-Za-z_][A-Za-z0-9_]*)"|'([A-Za-z_][A-Za-z0-9_]*)'|([A-Za-z_][A-Za-z0-9_]*))`)

// StripQuotedContent removes the contents of double-quoted, single-quoted,
// heredoc, and $(...)-subshell spans from a command string. The delimiters
// themselves survive so the command shape stays recognizable. Pattern
// authors use this as a pre-pass before naive substring inspection: quoted
// arguments can't mask a dangerous operation, and dangerous-looking text
// inside an intentionally quoted string can't trip a pattern.
func StripQuotedContent(command string) string {
	return stripQuotes(stripHeredocs(command))
}

// stripHeredocs removes every heredoc body, keeping the operator and the
// terminating delimiter line.
func stripHeredocs(s string) string {
	var b strings.Builder
	rest := s
	for {
		loc := heredocOperator.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String()
		}

		delim := ""
		for _, g := range []int{2, 4, 6} {
			if loc[g] >= 0 {
				delim = rest[loc[g]:loc[g+1]]
				break
			}
		}

		nl := strings.IndexByte(rest[loc[1]:], '\n')
		if nl < 0 {
			b.WriteString(rest)
			return b.String()
		}
		bodyStart := loc[1] + nl + 1
		b.WriteString(rest[:bodyStart])
		body := rest[bodyStart:]

		// Find the delimiter on its own line; <<- allows leading tabs.
		end := -1
		for offset := 0; offset <= len(body); {
			lineEnd := strings.IndexByte(body[offset:], '\n')
			var line string
			if lineEnd < 0 {
				line = body[offset:]
			} else {
				line = body[offset : offset+lineEnd]
			}
			if strings.TrimLeft(line, "\t") == delim {
				end = offset
				break
			}
			if lineEnd < 0 {
				break
			}
			offset += lineEnd + 1
		}
		if end < 0 {
			// Unterminated heredoc: everything after the operator line is body.
			return b.String()
		}
		rest = body[end:]
	}
}

// stripQuotes drops the contents of '...', "...", and $(...) spans.
//
//nolint:gocognit // single-pass lexical scanner; splitting it up obscures the state handling
func stripQuotes(s string) string {
	var b strings.Builder
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; {
		case r == '\'':
			b.WriteRune('\'')
			j := i + 1
			for j < len(rs) && rs[j] != '\'' {
				j++
			}
			if j < len(rs) {
				b.WriteRune('\'')
			}
			i = j
		case r == '"':
			b.WriteRune('"')
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				j++
			}
			if j < len(rs) {
				b.WriteRune('"')
			}
			i = j
		case r == '$' && i+1 < len(rs) && rs[i+1] == '(':
			b.WriteString("$(")
			depth := 1
			j := i + 2
			for j < len(rs) && depth > 0 {
				switch rs[j] {
				case '(':
					depth++
				case ')':
					depth--
				}
				j++
			}
			if depth == 0 {
				b.WriteRune(')')
			}
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
