package exec

import "testing"

func TestIsSafeExecutableValue(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"git", true},
		{"git-lfs", true},
		{"node_modules.sh", true},
		{"./run.sh", true},
		{"~/bin/tool", true},
		{"/usr/bin/env", true},
		{`C:\tools\bin.exe`, true},
		{"", false},
		{"   ", false},
		{"-rf", false},
		{"git; rm -rf /", false},
		{"git && rm -rf /", false},
		{"git | cat", false},
		{"git $(whoami)", false},
		{"git `whoami`", false},
		{"git > out.txt", false},
		{"git < in.txt", false},
		{`"git"`, false},
		{"'git'", false},
		{"git\nrm -rf /", false},
		{"tool\x00name", false},
	}
	for _, c := range cases {
		if got := IsSafeExecutableValue(c.value); got != c.want {
			t.Errorf("IsSafeExecutableValue(%q) = %v, want %v", c.value, got, c.want)
		}
	}
}

func TestShellMetacharsDetectsCommonChainingChars(t *testing.T) {
	chaining := []string{"a;b", "a&b", "a|b", "a`b`", "a$b", "a<b", "a>b"}
	for _, c := range chaining {
		if !ShellMetachars.MatchString(c) {
			t.Errorf("expected ShellMetachars to match %q", c)
		}
	}
	if ShellMetachars.MatchString("git status --short") {
		t.Error("expected a plain command to have no shell metacharacters")
	}
}

func TestControlCharsDetectsNewlines(t *testing.T) {
	if !ControlChars.MatchString("a\nb") {
		t.Error("expected ControlChars to match a newline")
	}
	if !ControlChars.MatchString("a\rb") {
		t.Error("expected ControlChars to match a carriage return")
	}
	if ControlChars.MatchString("a b") {
		t.Error("expected ControlChars to not match plain text")
	}
}
