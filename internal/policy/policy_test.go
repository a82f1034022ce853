package policy

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		want Category
	}{
		{"mcp_search", CategoryMCP},
		{"mcp:search", CategoryMCP},
		{"vector_db_query", CategoryMemory},
		{"shell", CategoryShell},
		{"read_file", CategoryFileRead},
		{"list_dir", CategoryFileRead},
		{"file_info", CategoryFileRead},
		{"search_files", CategoryFileRead},
		{"write_file", CategoryFileWrite},
		{"append_file", CategoryFileWrite},
		{"apply_delta", CategoryFileWrite},
		{"web_fetch", CategoryNetwork},
		{"remember", CategoryMemory},
		{"recall_memories", CategoryMemory},
		{"forget_memory", CategoryMemory},
		{"todo", CategoryMemory},
		{"subagent", CategorySubagent},
		{"subagent_status", CategorySubagent},
		{"mystery_tool", CategoryOther},
	}
	for _, c := range cases {
		if got := Classify(c.name); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestEngineCheckDisabled(t *testing.T) {
	e := NewEngine(Config{Enabled: false})
	if got := e.Check(ToolCall{Name: "shell"}); got != OutcomeDisabled {
		t.Fatalf("expected OutcomeDisabled, got %q", got)
	}
}

func TestEngineCheckProtectedBeatsAllowlist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegexAllowlist = []string{`.*`}
	e := NewEngine(cfg)

	out := e.Check(ToolCall{Name: "write_file", Arguments: `{}`, Path: "/tmp/.env"})
	if out != OutcomeDenyProtected {
		t.Fatalf("expected protected-file denial to take priority over allowlist, got %q", out)
	}
}

func TestEngineCheckAllowlistBeatsRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegexAllowlist = []string{`^arg$`}
	e := NewEngine(cfg)

	for i := 0; i < 3; i++ {
		e.RecordDenial("shell")
	}

	out := e.Check(ToolCall{Name: "shell", Arguments: "arg"})
	if out != OutcomeAllow {
		t.Fatalf("expected allowlist match to bypass an active rate limit backoff, got %q", out)
	}
}

func TestEngineCheckRateLimitBeatsCategoryDefault(t *testing.T) {
	e := NewEngine(DefaultConfig())
	for i := 0; i < 3; i++ {
		e.RecordDenial("shell")
	}

	out := e.Check(ToolCall{Name: "shell", Arguments: "ls"})
	if out != OutcomeRateLimited {
		t.Fatalf("expected rate limiting once backed off, got %q", out)
	}
}

func TestEngineCheckCategoryActions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CategoryAction[CategoryShell] = ActionDeny
	cfg.CategoryAction[CategorySubagent] = ActionAllow
	e := NewEngine(cfg)

	if got := e.Check(ToolCall{Name: "shell", Arguments: "ls"}); got != OutcomeDenyPolicy {
		t.Fatalf("expected deny_policy for a denied category, got %q", got)
	}
	if got := e.Check(ToolCall{Name: "subagent", Arguments: "{}"}); got != OutcomeAllow {
		t.Fatalf("expected allow for an allowed category, got %q", got)
	}
	if got := e.Check(ToolCall{Name: "mystery_tool", Arguments: "{}"}); got != OutcomePrompt {
		t.Fatalf("expected prompt as the default for an unconfigured category action, got %q", got)
	}
}

func TestEngineCheckProtectedOnlyBlocksWriteClass(t *testing.T) {
	e := NewEngine(DefaultConfig())

	if got := e.Check(ToolCall{Name: "write_file", Arguments: `{}`, Path: "/tmp/.env"}); got != OutcomeDenyProtected {
		t.Fatalf("expected a write to a protected file to be denied, got %q", got)
	}
	if got := e.Check(ToolCall{Name: "read_file", Arguments: `{}`, Path: "/tmp/.env"}); got == OutcomeDenyProtected {
		t.Fatal("expected a read-class tool to bypass the protected-file check")
	}
	if got := e.Check(ToolCall{Name: "append_file", Arguments: `{}`, Path: "/tmp/.env.local"}); got != OutcomeDenyProtected {
		t.Fatalf("expected append_file to be treated as write-class, got %q", got)
	}
}

func TestEngineRecordApprovalResetsRateLimit(t *testing.T) {
	e := NewEngine(DefaultConfig())
	for i := 0; i < 3; i++ {
		e.RecordDenial("shell")
	}
	if got := e.Check(ToolCall{Name: "shell", Arguments: "ls"}); got != OutcomeRateLimited {
		t.Fatalf("expected rate_limited before approval reset, got %q", got)
	}

	e.RecordApproval("shell")
	if got := e.Check(ToolCall{Name: "shell", Arguments: "ls"}); got == OutcomeRateLimited {
		t.Fatal("expected approval to clear the rate-limit backoff")
	}
}

func TestEngineAllowAlwaysLearnsAllowlistEntry(t *testing.T) {
	e := NewEngine(DefaultConfig())
	call := ToolCall{Name: "shell", Arguments: "git status"}

	if got := e.Check(call); got != OutcomePrompt {
		t.Fatalf("expected prompt before AllowAlways, got %q", got)
	}

	e.AllowAlways(call)

	if got := e.Check(ToolCall{Name: "shell", Arguments: "git log"}); got != OutcomeAllow {
		t.Fatalf("expected the learned git prefix to allow a related subcommand, got %q", got)
	}
}

func TestEngineRefreshProtectedDoesNotPanic(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.RefreshProtected()
}
