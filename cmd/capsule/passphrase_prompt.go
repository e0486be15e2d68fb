package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// promptPassphraseTwice asks for a new encryption passphrase and a
// confirmation, mirroring the familiar "set a password" UX; it refuses to
// proceed if the two don't match.
func promptPassphraseTwice() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cmd/capsule: --encrypt requires an interactive terminal to prompt for a passphrase")
	}

	fmt.Fprint(os.Stderr, "new passphrase: ")
	pw1, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("cmd/capsule: reading passphrase: %w", err)
	}

	fmt.Fprint(os.Stderr, "confirm passphrase: ")
	pw2, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("cmd/capsule: reading passphrase confirmation: %w", err)
	}

	if string(pw1) != string(pw2) {
		return "", fmt.Errorf("cmd/capsule: passphrases did not match")
	}
	return string(pw1), nil
}
