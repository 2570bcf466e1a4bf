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

// Source lazily resolves a secret (the sparkd signer key) from an environment
// variable, a file, or by prompting the operator. The value is cached after the
// first successful retrieval so repeated calls reuse the same secret.
type Source struct {
	envVar string
	file   string
	label  string

	stdin  *os.File
	prompt io.Writer

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithFile reads the secret from path when the environment variable is unset.
func WithFile(path string) Option {
	return func(s *Source) { s.file = strings.TrimSpace(path) }
}

// WithLabel changes the wording of the interactive prompt.
func WithLabel(label string) Option {
	return func(s *Source) {
		if strings.TrimSpace(label) != "" {
			s.label = strings.TrimSpace(label)
		}
	}
}

// NewSource constructs a source that checks envVar, then the optional file,
// before interactively prompting on the terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		label:  "signer private key",
		stdin:  os.Stdin,
		prompt: os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached secret or resolves it if this is the first call.
// Whitespace-only secrets are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return strings.TrimSpace(value), nil
		}
	}

	if s.file != "" {
		raw, err := os.ReadFile(s.file)
		if err != nil {
			return "", fmt.Errorf("read %s file: %w", s.label, err)
		}
		value := strings.TrimSpace(string(raw))
		if value == "" {
			return "", fmt.Errorf("%s file %s is empty", s.label, s.file)
		}
		return value, nil
	}

	if s.stdin == nil || !term.IsTerminal(int(s.stdin.Fd())) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}

	fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
	bytes, err := term.ReadPassword(int(s.stdin.Fd()))
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s.label, err)
	}
	value := strings.TrimSpace(string(bytes))
	if value == "" {
		return "", errors.New(s.label + " cannot be empty")
	}
	return value, nil
}
