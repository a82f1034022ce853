package policy

import (
	"encoding/json"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	execsafety "github.com/ralphagent/ralph/internal/exec"
)

// Allowlist holds the patterns an AllowedAlways decision installs, one
// shape per category:
//
//   - shell: the command's first whitespace-delimited token, so "always
//     allow `git status`" also allows `git status --short`.
//   - file read/write: the approved path's directory plus its extension,
//     so approving /proj/src/main.go covers every .go file in /proj/src
//     but nothing outside it.
//   - network: a scheme://host/ prefix with the trailing slash as a
//     mandatory path boundary, so a grant on https://example.com/ can
//     never be stretched to https://example.com.evil.net/.
//   - everything else: an exact-match regex on the serialized arguments.
//
// Config-supplied entries arrive as raw regex strings and shell prefixes;
// the structured file/network shapes only ever come from Learn.
type Allowlist struct {
	mu            sync.RWMutex
	regexes       []*regexp.Regexp
	shellPrefixes []string
	filePatterns  []filePattern
	urlPrefixes   []string
}

// filePattern scopes a learned file grant to one directory and extension.
// An empty ext matches only extensionless files in that directory.
type filePattern struct {
	dir string
	ext string
}

// NewAllowlist compiles the configured regex and shell-prefix patterns.
// Invalid regexes are skipped rather than causing a startup failure, since
// an allowlist is an optimization, not a safety boundary — failing open on
// a bad pattern here would be worse than ignoring it.
func NewAllowlist(regexPatterns, shellPrefixes []string) *Allowlist {
	a := &Allowlist{}
	for _, p := range regexPatterns {
		if re, err := regexp.Compile(p); err == nil {
			a.regexes = append(a.regexes, re)
		}
	}
	a.shellPrefixes = append(a.shellPrefixes, shellPrefixes...)
	return a
}

// Matches reports whether call is covered by an existing allowlist entry.
func (a *Allowlist) Matches(call ToolCall) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, re := range a.regexes {
		if re.MatchString(call.Arguments) {
			return true
		}
	}

	switch Classify(call.Name) {
	case CategoryShell:
		if prefix, ok := shellCommandPrefix(call.Arguments); ok {
			for _, allowed := range a.shellPrefixes {
				if prefix == allowed {
					return true
				}
			}
		}
	case CategoryFileRead, CategoryFileWrite:
		if call.Path != "" {
			dir, ext := splitPathPattern(call.Path)
			for _, fp := range a.filePatterns {
				if fp.dir == dir && fp.ext == ext {
					return true
				}
			}
		}
	case CategoryNetwork:
		if u := urlArgument(call.Arguments); u != "" {
			for _, prefix := range a.urlPrefixes {
				if strings.HasPrefix(u, prefix) {
					return true
				}
			}
		}
	}

	return false
}

// Learn installs a new allowlist entry derived from call, per the
// category-specific synthesis rule AllowedAlways applies (see the type
// comment). Shell commands containing a metacharacter — pipes, redirects,
// chaining — fall back to an exact-match regex, since a prefix grant would
// otherwise also cover the piped/chained half of the command. File calls
// with no extractable path and network calls with no parseable URL fall
// back the same way.
func (a *Allowlist) Learn(call ToolCall) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch Classify(call.Name) {
	case CategoryShell:
		if prefix, ok := shellCommandPrefix(call.Arguments); ok && isChainFree(call.Arguments) {
			a.shellPrefixes = append(a.shellPrefixes, prefix)
			return
		}
	case CategoryFileRead, CategoryFileWrite:
		if call.Path != "" {
			dir, ext := splitPathPattern(call.Path)
			a.filePatterns = append(a.filePatterns, filePattern{dir: dir, ext: ext})
			return
		}
	case CategoryNetwork:
		if prefix := urlOriginPrefix(urlArgument(call.Arguments)); prefix != "" {
			a.urlPrefixes = append(a.urlPrefixes, prefix)
			return
		}
	}

	if re, err := regexp.Compile("^" + regexp.QuoteMeta(call.Arguments) + "$"); err == nil {
		a.regexes = append(a.regexes, re)
	}
}

// splitPathPattern normalizes path into the (directory, extension) pair a
// learned file grant is keyed by.
func splitPathPattern(path string) (dir, ext string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return filepath.Dir(abs), filepath.Ext(abs)
}

// urlArgument pulls the "url" key out of a call's JSON arguments.
func urlArgument(argumentsJSON string) string {
	var raw struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(argumentsJSON), &raw); err != nil {
		return ""
	}
	return raw.URL
}

// urlOriginPrefix reduces rawURL to "scheme://host/". The trailing slash
// is the mandatory path boundary: a prefix match against it cannot be
// satisfied by a longer hostname (host.evil.com) because the approved
// host is terminated before any such suffix could begin.
func urlOriginPrefix(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

// shellCommandPrefix extracts the first whitespace-delimited token of a
// shell command string and validates it as a safe bare executable name or
// path via internal/exec's safety checks. Arguments in the shell tool's
// JSON form ({"command": ...}) are reduced to their command string first.
func shellCommandPrefix(command string) (string, bool) {
	var raw struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(command), &raw); err == nil && raw.Command != "" {
		command = raw.Command
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", false
	}
	first := fields[0]
	if !execsafety.IsSafeExecutableValue(first) {
		return "", false
	}
	return first, true
}

// isChainFree reports whether command contains no shell metacharacters
// that would let a prefix grant cover more than the named executable.
func isChainFree(command string) bool {
	return !execsafety.ShellMetachars.MatchString(command)
}
