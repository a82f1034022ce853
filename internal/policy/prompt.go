package policy

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// PromptDecision is the raw keypress outcome of an interactive approval
// dialog, before rate-limiter bookkeeping is applied.
type PromptDecision string

const (
	DecisionYes         PromptDecision = "yes"
	DecisionNo          PromptDecision = "no"
	DecisionAlways      PromptDecision = "always"
	DecisionInterrupted PromptDecision = "interrupted"
)

// Prompter serializes single-keypress approval dialogs to a terminal. Only
// one prompt is ever in flight at a time, even across parallel batch
// workers, since a shared TTY can't render two dialogs at once.
type Prompter struct {
	mu  sync.Mutex
	in  *os.File
	out io.Writer
}

// NewPrompter builds a Prompter reading from in (typically os.Stdin) and
// writing to out (typically os.Stderr, so dialog text doesn't interleave
// with piped stdout).
func NewPrompter(in *os.File, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// Ask renders summary and blocks for a single keypress: 'y' allows once,
// 'n' denies, 'a' allows and remembers, '?' reprints the help text and
// waits again. A SIGINT during the prompt returns DecisionInterrupted with
// the terminal restored to cooked mode.
func (p *Prompter) Ask(summary string) PromptDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n%s\nAllow? [y]es/[n]o/[a]lways/[?]help: ", summary)

	restore, err := enableRawMode(p.in)
	if err != nil {
		// Raw mode unavailable (not a TTY) — fail closed rather than
		// block forever on a read that will never see a keypress.
		return DecisionNo
	}
	defer restore()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	keyCh := make(chan byte, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := p.in.Read(buf); err != nil {
				close(keyCh)
				return
			}
			keyCh <- buf[0]
			switch buf[0] {
			case 'y', 'Y', 'n', 'N', 'a', 'A', 3:
				return
			}
		}
	}()

	for {
		select {
		case <-sigCh:
			fmt.Fprintln(p.out, "^C")
			return DecisionInterrupted
		case key, ok := <-keyCh:
			// In raw mode Ctrl-C arrives as byte 3 rather than as SIGINT.
			if !ok || key == 3 {
				return DecisionInterrupted
			}
			switch key {
			case 'y', 'Y':
				fmt.Fprintln(p.out, "yes")
				return DecisionYes
			case 'n', 'N':
				fmt.Fprintln(p.out, "no")
				return DecisionNo
			case 'a', 'A':
				fmt.Fprintln(p.out, "always")
				return DecisionAlways
			case '?':
				fmt.Fprint(p.out, "\ny = allow once, n = deny, a = allow always, ? = help: ")
				continue
			default:
				continue
			}
		}
	}
}
