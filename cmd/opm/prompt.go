package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var errMismatch = errors.New("passwords do not match")

// stdin is shared by every prompt so buffered input is not lost between
// them when it is not a terminal.
var stdin = bufio.NewReader(os.Stdin)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// readSecret prompts for a value without echo. When stdin is not a
// terminal it reads one line instead. The caller owns and should wipe the
// returned slice.
func readSecret(prompt string) ([]byte, error) {
	if stdinIsTerminal() {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return b, nil
	}
	return readRawLine(stdin)
}

// readRawLine reads one line from r without its terminator.
func readRawLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		clear(line)
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	out := bytes.TrimRight(line, "\r\n")
	return out, nil
}

// readLine prompts for a visible value.
func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := readRawLine(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// readRequired prompts until a non-empty value is entered.
func readRequired(prompt string) (string, error) {
	for {
		v, err := readLine(prompt)
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
		fmt.Fprintln(os.Stderr, "A value is required.")
	}
}

// readNewPassword asks for a password twice.
func readNewPassword() ([]byte, error) {
	first, err := readSecret("Password: ")
	if err != nil {
		return nil, err
	}
	second, err := readSecret("Confirm password: ")
	if err != nil {
		clear(first)
		return nil, err
	}
	defer clear(second)
	if !bytes.Equal(first, second) {
		clear(first)
		return nil, errMismatch
	}
	return first, nil
}

// readIndex asks for an item number between 1 and n.
func readIndex(n int) (int, error) {
	for {
		v, err := readLine(fmt.Sprintf("Select item [1-%d]: ", n))
		if err != nil {
			return 0, err
		}
		i, err := strconv.Atoi(v)
		if err == nil && i >= 1 && i <= n {
			return i, nil
		}
		fmt.Fprintf(os.Stderr, "Enter a number between 1 and %d.\n", n)
	}
}
