// Package passphrase resolves the mint-chain signer keystore passphrase.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a passphrase from an environment variable or a terminal
// prompt and caches the first result.
type Source struct {
	envVar string
	prompt func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on the controlling terminal.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: terminalPrompt(os.Stdin, os.Stderr)}
}

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		value, err := s.prompt()
		if err != nil {
			if s.envVar != "" {
				err = fmt.Errorf("%w; set %s", err, s.envVar)
			}
			s.err = err
			return
		}
		if strings.TrimSpace(value) == "" {
			s.err = errors.New("signer keystore passphrase cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}

func terminalPrompt(in *os.File, out io.Writer) func() (string, error) {
	return func() (string, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return "", errors.New("signer keystore passphrase required and no terminal available")
		}
		fmt.Fprint(out, "Enter signer keystore passphrase: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return string(raw), nil
	}
}
