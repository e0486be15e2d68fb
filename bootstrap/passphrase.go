package bootstrap

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/capsulerun/capsule/payload"
)

// ReadPassphrase obtains a decryption passphrase from in: an interactive
// TTY gets an echo-suppressing prompt, anything else (a pipe, a redirected
// file) gets a single line read instead. Neither path retains the
// passphrase beyond the string it returns.
func ReadPassphrase(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		if prompt != nil {
			fmt.Fprint(prompt, "capsule passphrase: ")
		}
		data, err := term.ReadPassword(fd)
		if prompt != nil {
			fmt.Fprintln(prompt)
		}
		if err != nil {
			return "", fmt.Errorf("bootstrap: reading passphrase: %w", err)
		}
		return string(data), nil
	}

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("bootstrap: reading passphrase from stdin: %w", err)
		}
		return "", fmt.Errorf("bootstrap: no passphrase supplied on stdin: %w", payload.ErrBadPassphrase)
	}
	return scanner.Text(), nil
}
