package damage

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Finding is the transient result of a single check. Never persisted.
// Ask means the host should request confirmation rather than hard-block.
type Finding struct {
	Blocked bool   `json:"blocked"`
	Ask     bool   `json:"ask"`
	Reason  string `json:"reason,omitempty"`
}

// opTemplate is a command-shape regex with a %s slot for the protected-path
// fragment.
type opTemplate struct {
	name    string
	pattern string
}

// Write-family operations blocked on read-only paths. The [^|;&]* runs keep
// a template from matching across pipeline or command-list boundaries.
var writeOps = []opTemplate{
	{"append redirect", `>>\s*(?:%s)`},
	{"write redirect", `>\s*(?:%s)`},
	{"tee write", `\btee\s+(?:-[a-zA-Z]+\s+)*(?:%s)`},
	{"in-place sed edit", `\bsed\s[^|;&]*-i[^|;&]*(?:%s)`},
	{"in-place perl edit", `\bperl\s[^|;&]*-i[^|;&]*(?:%s)`},
	{"in-place awk edit", `\bawk\s[^|;&]*-i\s*inplace[^|;&]*(?:%s)`},
	{"move/copy onto", `\b(?:mv|cp)\s[^|;&]*(?:%s)`},
	{"permission change", `\b(?:chmod|chown|chgrp)\s[^|;&]*(?:%s)`},
	{"truncate", `\btruncate\s[^|;&]*(?:%s)`},
}

// Delete-family operations, blocked on both read-only and no-delete paths.
var deleteOps = []opTemplate{
	{"delete", `\b(?:rm|unlink|rmdir|shred)\s[^|;&]*(?:%s)`},
}

// CheckBashCommand classifies a raw shell command against the policy.
// Precedence: explicit pattern list, zero-access paths, read-only paths,
// no-delete paths; first hit wins.
func CheckBashCommand(command string, cfg Config) Finding {
	for _, rule := range cfg.BashToolPatterns {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			slog.Default().Warn("skipping unparseable damage-control pattern", "pattern", rule.Pattern, "error", err)
			continue
		}
		if re.MatchString(command) {
			reason := rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("command matches restricted pattern %q", rule.Pattern)
			}
			if rule.Ask {
				return Finding{Ask: true, Reason: reason}
			}
			return Finding{Blocked: true, Reason: reason}
		}
	}

	tokens := commandTokens(command)

	for _, protected := range cfg.ZeroAccessPaths {
		if commandReferencesPath(command, tokens, protected) {
			return Finding{Blocked: true, Reason: fmt.Sprintf("zero-access path %q: no operations allowed", protected)}
		}
	}
	for _, protected := range cfg.ReadOnlyPaths {
		if op, ok := matchOperation(command, protected, append(append([]opTemplate{}, writeOps...), deleteOps...)); ok {
			return Finding{Blocked: true, Reason: fmt.Sprintf("read-only path %q: %s blocked", protected, op)}
		}
	}
	for _, protected := range cfg.NoDeletePaths {
		if op, ok := matchOperation(command, protected, deleteOps); ok {
			return Finding{Blocked: true, Reason: fmt.Sprintf("no-delete path %q: %s blocked", protected, op)}
		}
	}
	return Finding{}
}

// CheckFilePath classifies a direct file operation (Edit/Write tools).
// Edits count as writes, so zero-access and read-only paths both block;
// no-delete paths do not.
func CheckFilePath(path string, cfg Config) Finding {
	for _, protected := range cfg.ZeroAccessPaths {
		if MatchPath(path, protected) {
			return Finding{Blocked: true, Reason: fmt.Sprintf("zero-access path %q: no operations allowed", protected)}
		}
	}
	for _, protected := range cfg.ReadOnlyPaths {
		if MatchPath(path, protected) {
			return Finding{Blocked: true, Reason: fmt.Sprintf("read-only path %q: edits and writes blocked", protected)}
		}
	}
	return Finding{}
}

// matchOperation searches command for the protected path substituted into
// each operation template.
func matchOperation(command, protected string, ops []opTemplate) (string, bool) {
	frag := pathFragment(protected)
	for _, op := range ops {
		re, err := regexp.Compile("(?i)" + fmt.Sprintf(op.pattern, frag))
		if err != nil {
			continue
		}
		if re.MatchString(command) {
			return op.name, true
		}
	}
	return "", false
}

// commandReferencesPath reports whether the command touches the protected
// path at all: token-precise first via shell-words parsing, then a raw
// regex scan for quoted or concatenated forms.
func commandReferencesPath(command string, tokens []string, protected string) bool {
	for _, tok := range tokens {
		if strings.HasPrefix(tok, "-") {
			continue
		}
		if MatchPath(tok, protected) {
			return true
		}
	}

	re, err := regexp.Compile(`(?i)(?:^|[\s"'=:(])(?:` + pathFragment(protected) + `)(?:$|[\s"'` + "`" + `:;|&)<>])`)
	if err != nil {
		return false
	}
	return re.MatchString(command)
}

// pathFragment builds the regex fragment for a protected path. Globs
// translate directly; literals match the raw and canonical spellings plus
// any child path.
func pathFragment(protected string) string {
	if isGlobPattern(protected) {
		return `(?:[^\s'"]*/)?` + globToRegex(protected)
	}

	variants := []string{protected}
	if canonical := canonicalPath(protected); canonical != "" && canonical != protected {
		variants = append(variants, canonical)
	}
	parts := make([]string, 0, len(variants))
	for _, v := range variants {
		parts = append(parts, regexp.QuoteMeta(v)+`(?:/[^\s'"]*)?`)
	}
	return strings.Join(parts, "|")
}

// commandTokens splits a shell command into words. Parse failures (odd
// quoting, incomplete syntax) degrade to no tokens; the regex scan still
// applies.
func commandTokens(command string) []string {
	parser := shellwords.NewParser()
	tokens, err := parser.Parse(command)
	if err != nil {
		return nil
	}
	return tokens
}
