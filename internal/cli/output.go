package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	successMark = color.New(color.FgGreen).SprintFunc()
	warnText    = color.New(color.FgYellow).SprintFunc()
	highlight   = color.New(color.FgCyan).SprintFunc()
	muted       = color.New(color.Faint).SprintFunc()
)

// success prints a green check followed by the message on Out.
func (a *App) success(format string, args ...any) {
	fmt.Fprintf(a.Out, "%s %s\n", successMark("✓"), fmt.Sprintf(format, args...))
}

// warn prints a highlighted warning on Err.
func (a *App) warn(format string, args ...any) {
	fmt.Fprintln(a.Err, warnText(fmt.Sprintf(format, args...)))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// startSpinner shows progress on Err during slow key derivation. It stays
// silent when Err is not a terminal or verbose logging is on. The returned
// function stops it.
func (a *App) startSpinner(message string) func() {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.Err))
	s.Suffix = " " + message
	if err := s.Color("cyan"); err != nil {
		a.log.Debug().Err(err).Msg("failed to set spinner color")
	}

	if a.Verbose || a.Debug || !isTerminal(a.Err) {
		a.log.Debug().Msg(message)
		return func() {}
	}

	s.Start()
	return s.Stop
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
