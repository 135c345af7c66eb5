package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// prompter reads answers from in and writes prompts to out.
type prompter struct {
	in  io.Reader
	r   *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, r: bufio.NewReader(in), out: out}
}

// line returns one trimmed line.
func (p *prompter) line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	s, err := p.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// secret reads a secret without echo when in is a terminal. The caller must
// Destroy the returned buffer.
func (p *prompter) secret(prompt string) (*memguard.LockedBuffer, error) {
	fmt.Fprint(p.out, prompt)

	var raw []byte
	if isTerminal(p.in) {
		b, err := term.ReadPassword(int(p.in.(*os.File).Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		raw = b
	} else {
		b, err := p.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		raw = bytes.TrimRight(b, "\r\n")
	}
	if len(raw) == 0 {
		return nil, errors.New("empty secret")
	}
	// NewBufferFromBytes wipes raw.
	return memguard.NewBufferFromBytes(raw), nil
}

// withSpinner runs fn while a spinner with suffix runs on w. The spinner is
// skipped when w is not a terminal.
func withSpinner[T any](w io.Writer, suffix string, fn func() T) T {
	if !isTerminal(w) {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()
	return fn()
}
