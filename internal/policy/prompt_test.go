package policy

import (
	"bytes"
	"os"
	"testing"
)

// TestPrompterAskFailsClosedWithoutTTY exercises the non-interactive path:
// when the input isn't a terminal, Ask must return DecisionNo rather than
// block forever waiting on a keypress that can never arrive.
func TestPrompterAskFailsClosedWithoutTTY(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	var out bytes.Buffer
	p := NewPrompter(r, &out)

	decision := p.Ask("allow shell: ls -la?")
	if decision != DecisionNo {
		t.Fatalf("expected DecisionNo for a non-TTY input, got %q", decision)
	}
}
