package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/logrusorgru/aurora"

	"github.com/pybuild/pybuild/pkg/backend"
	"github.com/pybuild/pybuild/pkg/builder"
	"github.com/pybuild/pybuild/pkg/console"
)

// renderError prints a build failure the way a user can act on it: unmet
// dependencies as a structured list, backend exceptions with their remote
// traceback, everything else as a single message.
func renderError(con *console.Console, err error) {
	var unmet *builder.UnmetDependenciesError
	var hookErr *backend.HookError
	var procErr *backend.ProcessError

	switch {
	case errors.As(err, &unmet):
		var b strings.Builder
		b.WriteString("Missing dependencies:")
		for _, chain := range unmet.Unmet {
			b.WriteString("\n\t" + chain[0])
			if len(chain) > 1 {
				b.WriteString("\n\t" + builder.FormatChain(chain[1:]))
			}
		}
		con.Error(b.String())

	case errors.As(err, &hookErr):
		printDim(con, strings.TrimSpace(hookErr.Traceback))
		con.Error(hookErr.Error())

	case errors.As(err, &procErr):
		if out := strings.TrimSpace(string(procErr.Output)); out != "" && !con.Verbose() {
			printDim(con, out)
		}
		con.Errorf("build backend process failed while running %s", procErr.Hook)

	default:
		con.Errorf("%s", err)
	}
}

func printDim(con *console.Console, text string) {
	if text == "" {
		return
	}
	if con.Color {
		text = aurora.Faint(text).String()
	}
	fmt.Fprintln(os.Stderr, "\n"+text)
}

func successMessage(con *console.Console, built []string) string {
	names := make([]string, len(built))
	for i, artifact := range built {
		if con.Color {
			artifact = aurora.Bold(aurora.Green(artifact)).String()
		}
		names[i] = artifact
	}
	msg := "Successfully built " + naturalList(names)
	if con.Color {
		return aurora.Bold(msg).String()
	}
	return msg
}

func naturalList(elements []string) string {
	if len(elements) <= 1 {
		return strings.Join(elements, "")
	}
	return strings.Join(elements[:len(elements)-1], ", ") + " and " + elements[len(elements)-1]
}
