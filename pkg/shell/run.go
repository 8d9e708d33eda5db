// Package shell runs the external subprocesses the build frontend drives:
// interpreters, installers and backend hook runners.
package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pybuild/pybuild/pkg/console"
)

// Options control where and with which environment a subprocess runs.
type Options struct {
	// Dir is the working directory; empty means inherit.
	Dir string
	// ExtraEnviron is merged over the current process environment.
	ExtraEnviron []string
	// Stdin, when set, is fed to the subprocess.
	Stdin io.Reader
}

// Run executes a command and waits for it. Combined stdout+stderr is always
// captured and returned so a failure can carry its diagnostics; in verbose
// mode it is additionally streamed line by line through the console as it
// arrives. Memory use for quiet long-running subprocesses is bounded by the
// single capture buffer, and the common non-verbose case emits nothing.
func Run(ctx context.Context, con *console.Console, name string, args []string, opts Options) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = MergeEnviron(os.Environ(), opts.ExtraEnviron)
	cmd.Stdin = opts.Stdin

	con.Command(strings.Join(cmd.Args, " "))

	var buf bytes.Buffer
	var out io.Writer = &buf
	var stream *lineWriter
	if con.Verbose() {
		stream = &lineWriter{con: con}
		out = io.MultiWriter(&buf, stream)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if stream != nil {
		stream.Flush()
	}
	return buf.Bytes(), err
}

// MergeEnviron layers override entries over a base environment, later
// occurrences of a variable winning.
func MergeEnviron(base []string, overrides []string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, entry := range overrides {
		seen[envKey(entry)] = true
	}
	for _, entry := range base {
		if !seen[envKey(entry)] {
			merged = append(merged, entry)
		}
	}
	return append(merged, overrides...)
}

func envKey(entry string) string {
	if i := strings.IndexByte(entry, '='); i >= 0 {
		return entry[:i]
	}
	return entry
}

// lineWriter forwards complete lines to the console as they are written.
type lineWriter struct {
	con *console.Console
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line; keep it buffered until the newline arrives.
			w.buf.WriteString(line)
			break
		}
		w.con.CommandOutput(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits any trailing output that did not end in a newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.con.CommandOutput(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}
