package agent

import (
	"regexp"
	"strings"

	"github.com/ralphagent/ralph/pkg/models"
)

// DefaultMaxToolResultSize caps a tool result's serialized size (64KB)
// before it re-enters the conversation, bounding both context growth and
// the chance of leaking a large secret-bearing payload verbatim.
const DefaultMaxToolResultSize = 64 * 1024

// builtinSecretPatterns are always applied when SanitizeSecrets is enabled.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ToolResultGuard redacts and truncates tool results before they are
// appended to conversation history.
type ToolResultGuard struct {
	Enabled         bool
	MaxChars        int
	Denylist        []string
	RedactPatterns  []string
	RedactionText   string
	TruncateSuffix  string
	SanitizeSecrets bool
}

func (g ToolResultGuard) active() bool {
	return g.Enabled || g.MaxChars > 0 || len(g.Denylist) > 0 || len(g.RedactPatterns) > 0 || g.RedactionText != "" || g.TruncateSuffix != "" || g.SanitizeSecrets
}

// Apply redacts toolName's result in place, returning the guarded copy.
func (g ToolResultGuard) Apply(toolName string, result models.ToolResult) models.ToolResult {
	if !g.active() {
		return result
	}

	redaction := strings.TrimSpace(g.RedactionText)
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	truncateSuffix := strings.TrimSpace(g.TruncateSuffix)
	if truncateSuffix == "" {
		truncateSuffix = "...[truncated]"
	}

	if len(g.Denylist) > 0 && matchesAnyPattern(g.Denylist, toolName) {
		result.Result = redaction
		return result
	}

	content := result.Result
	if g.SanitizeSecrets && content != "" {
		for _, re := range builtinSecretPatterns {
			content = re.ReplaceAllString(content, redaction)
		}
	}
	if len(g.RedactPatterns) > 0 && content != "" {
		for _, pattern := range g.RedactPatterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			content = re.ReplaceAllString(content, redaction)
		}
	}
	result.Result = content

	if g.MaxChars > 0 && len(result.Result) > g.MaxChars {
		cutoff := g.MaxChars
		if cutoff > len(result.Result) {
			cutoff = len(result.Result)
		}
		result.Result = result.Result[:cutoff] + truncateSuffix
	}

	return result
}

func matchesAnyPattern(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchToolPattern(p, name) {
			return true
		}
	}
	return false
}

// matchToolPattern matches a tool name against a pattern supporting the
// "mcp:*" prefix wildcard, a trailing "*" prefix wildcard, or an exact
// match.
func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp_*" || pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp_") || strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}

// DetectSecrets reports which builtin secret patterns match content.
func DetectSecrets(content string) []string {
	if content == "" {
		return nil
	}
	names := []string{"api_key", "bearer_token", "aws_key", "generic_secret", "private_key"}
	var matches []string
	for i, re := range builtinSecretPatterns {
		if re.MatchString(content) {
			matches = append(matches, names[i])
		}
	}
	return matches
}
