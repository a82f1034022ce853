//go:build !windows

package policy

import (
	"os"

	"golang.org/x/term"
)

// enableRawMode puts f into raw mode for the duration of a single-keypress
// read and returns a function that restores the prior terminal state.
func enableRawMode(f *os.File) (func(), error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, os.ErrInvalid
	}
	prev, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, prev) }, nil
}
