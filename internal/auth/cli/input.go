package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// terminalPassword prompts on stderr and reads without echo when stdin is a
// terminal, otherwise it reads one line from stdin.
func (a *cliApp) terminalPassword(prompt string) (string, error) {
	fmt.Fprint(a.stderr, prompt)

	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	line, err := a.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newPassword asks twice and requires both entries to match.
func (a *cliApp) newPassword() (string, error) {
	first, err := a.password("New password: ")
	if err != nil {
		return "", err
	}
	second, err := a.password("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}
