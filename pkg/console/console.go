// Package console provides a standard interface for user- and machine-interface with the console
package console

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-wordwrap"
	"github.com/moby/term"
)

// Console represents a standardized interface for console UI. It is designed to abstract:
// - Writing messages to logs or displaying on console
// - Echoing subprocess commands and their output in verbose mode
// - Switching between human and machine modes for these things (e.g. don't display colors in logs)
//
// A Console is created once per top-level invocation and passed by reference
// through the build call chain; no package-global instance exists, so two
// independent callers in one process never share verbosity state.
type Console struct {
	Color bool
	Level Level
	mu    sync.Mutex
}

// New returns a Console at the given level, with color enabled when stderr is a TTY.
func New(level Level) *Console {
	return &Console{
		Color: IsTTY(os.Stderr),
		Level: level,
	}
}

// Debug level message
func (c *Console) Debug(msg string) {
	c.log(DebugLevel, msg)
}

// Info level message
func (c *Console) Info(msg string) {
	c.log(InfoLevel, msg)
}

// Warn level message
func (c *Console) Warn(msg string) {
	c.log(WarnLevel, msg)
}

// Error level message
func (c *Console) Error(msg string) {
	c.log(ErrorLevel, msg)
}

// Debugf is Debug with formatting
func (c *Console) Debugf(msg string, v ...interface{}) {
	c.log(DebugLevel, fmt.Sprintf(msg, v...))
}

// Infof is Info with formatting
func (c *Console) Infof(msg string, v ...interface{}) {
	c.log(InfoLevel, fmt.Sprintf(msg, v...))
}

// Warnf is Warn with formatting
func (c *Console) Warnf(msg string, v ...interface{}) {
	c.log(WarnLevel, fmt.Sprintf(msg, v...))
}

// Errorf is Error with formatting
func (c *Console) Errorf(msg string, v ...interface{}) {
	c.log(ErrorLevel, fmt.Sprintf(msg, v...))
}

// Output a line to stdout. Useful for printing primary output of a command, or the output of a subcommand.
func (c *Console) Output(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(os.Stdout, line)
}

// Verbose reports whether subprocess output should be streamed as it arrives
// rather than captured and surfaced only on failure.
func (c *Console) Verbose() bool {
	return c.Level <= DebugLevel
}

// Command echoes a subprocess invocation, prefixed "> ". Only shown in verbose mode.
func (c *Console) Command(line string) {
	c.echo("> ", line)
}

// CommandOutput echoes a line produced by a subprocess, prefixed "< ". Only shown in verbose mode.
func (c *Console) CommandOutput(line string) {
	c.echo("< ", line)
}

func (c *Console) echo(prompt, msg string) {
	if !c.Verbose() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range strings.Split(msg, "\n") {
		line = prompt + line
		if c.Color {
			line = aurora.Faint(line).String()
		}
		fmt.Fprintln(os.Stderr, line)
	}
}

func (c *Console) log(level Level, msg string) {
	if level < c.Level {
		return
	}

	prompt := "* "
	continuationPrompt := "  "

	// Word wrap, for terminals 30 chars or wider. Anything smaller and the
	// terminal is probably resized really small, and when the user resizes it
	// to be big again the text should flow sensibly instead of having one word
	// per line. This also makes width-len(prompt) always be positive.
	if width, err := GetWidth(); err == nil && width > 30 {
		msg = wordwrap.WrapString(msg, uint(width)-uint(len(prompt)))
	}

	// Add color after word wrapping so naive length of prompt is correct
	if c.Color {
		color := aurora.Bold
		switch level {
		case WarnLevel:
			color = aurora.Yellow
		case ErrorLevel:
			color = aurora.Red
		}
		prompt = color(prompt).String()
		continuationPrompt = color(continuationPrompt).String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, line := range strings.Split(msg, "\n") {
		if c.Color && level == DebugLevel {
			line = aurora.Faint(line).String()
		}
		if i == 0 {
			line = prompt + line
		} else {
			line = continuationPrompt + line
		}
		fmt.Fprintln(os.Stderr, line)
	}
}

// IsTTY checks if a file is a TTY or not. E.g. IsTTY(os.Stdin)
func IsTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd())
}

// GetWidth returns the width of the terminal (from stderr -- stdout might be piped)
//
// Returns 0 if we're not in a terminal
func GetWidth() (uint16, error) {
	fd := os.Stderr.Fd()
	if term.IsTerminal(fd) {
		ws, err := term.GetWinsize(fd)
		if err != nil {
			return 0, err
		}
		return ws.Width, nil
	}
	return 0, nil
}
