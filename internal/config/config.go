// Package config loads the YAML policy and runtime configuration file the
// CLI entrypoint reads at startup: the approval policy (§4.1's categories,
// regex allowlist, shell allowlist), the subagent pool's limits, and the ambient
// runtime settings (model, logging level, max iterations).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ralphagent/ralph/internal/policy"
)

// PolicyConfig is the approval-policy section of the config file.
type PolicyConfig struct {
	Enabled       bool              `yaml:"enabled"`
	IsInteractive bool              `yaml:"interactive"`
	Categories    map[string]string `yaml:"categories"`
	Allowlist     []string          `yaml:"allowlist"`
	ShellAllow    []string          `yaml:"shell_allowlist"`
}

// SubagentConfig bounds the subagent pool.
type SubagentConfig struct {
	MaxActive int           `yaml:"max_active"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RuntimeConfig is the ambient knob set for the iterative loop and LLM
// transport.
type RuntimeConfig struct {
	Model         string `yaml:"model"`
	SystemPrompt  string `yaml:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations"`
}

// LoggingConfig controls the slog handler the CLI installs as default.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the top-level shape of ralph.yaml.
type Config struct {
	Policy   PolicyConfig   `yaml:"policy"`
	Subagent SubagentConfig `yaml:"subagent"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns a config suitable for an interactive TTY session, with
// every category except subagent gated by a prompt (subagent spawns are
// allowed) and a handful of safe defaults filled in. Load starts from this and overlays whatever the file specifies.
func Default() Config {
	return Config{
		Policy: PolicyConfig{
			Enabled:       true,
			IsInteractive: true,
			Categories: map[string]string{
				"file_write": "prompt",
				"file_read":  "prompt",
				"shell":      "prompt",
				"network":    "prompt",
				"memory":     "prompt",
				"subagent":   "allow",
				"mcp":        "prompt",
				"other":      "prompt",
			},
		},
		Subagent: SubagentConfig{
			MaxActive: 8,
			Timeout:   300 * time.Second,
		},
		Runtime: RuntimeConfig{
			Model:         "claude-sonnet-4-20250514",
			MaxIterations: 200,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load reads path, expands environment variable references (so secrets like
// ANTHROPIC_API_KEY never need to live in the file itself), and unmarshals
// over Default(). A missing file is not an error: Load returns Default()
// unchanged so the CLI can run with zero configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

var knownCategories = map[string]policy.Category{
	"file_write": policy.CategoryFileWrite,
	"file_read":  policy.CategoryFileRead,
	"shell":      policy.CategoryShell,
	"network":    policy.CategoryNetwork,
	"memory":     policy.CategoryMemory,
	"subagent":   policy.CategorySubagent,
	"mcp":        policy.CategoryMCP,
	"other":      policy.CategoryOther,
}

var knownActions = map[string]policy.Action{
	"allow":  policy.ActionAllow,
	"prompt": policy.ActionPrompt,
	"deny":   policy.ActionDeny,
}

// ToPolicyConfig converts the YAML policy section into a policy.Config.
// Unknown category or action names are logged and skipped rather than
// failing the load; the category then falls back to policy's own prompt
// default.
func (p PolicyConfig) ToPolicyConfig(logger *slog.Logger) policy.Config {
	cfg := policy.Config{
		Enabled:        p.Enabled,
		IsInteractive:  p.IsInteractive,
		CategoryAction: map[policy.Category]policy.Action{},
		RegexAllowlist: p.Allowlist,
		ShellAllowlist: p.ShellAllow,
	}
	for name, actionName := range p.Categories {
		cat, ok := knownCategories[name]
		if !ok {
			if logger != nil {
				logger.Warn("config: unknown policy category, skipping", "category", name)
			}
			continue
		}
		action, ok := knownActions[actionName]
		if !ok {
			if logger != nil {
				logger.Warn("config: unknown policy action, skipping", "category", name, "action", actionName)
			}
			continue
		}
		cfg.CategoryAction[cat] = action
	}
	return cfg
}
