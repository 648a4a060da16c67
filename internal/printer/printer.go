package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer writes user-facing CLI output. Colors follow fatih/color, which
// disables them for non-terminals and when NO_COLOR is set.
type Printer struct {
	out io.Writer
	err io.Writer
}

func New(out, errOut io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Printer{out: out, err: errOut}
}

// Success prints a message in green with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprintln(p.out, msg)
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format+"\n", a...)
}

func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠") {
		msg = "⚠ " + msg
	}
	yellow.Fprintln(p.err, msg)
}

func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintln(p.out, "→ "+fmt.Sprintf(format, a...))
}

// Raw writes data unchanged, adding a trailing newline if missing.
func (p *Printer) Raw(data []byte) {
	_, _ = p.out.Write(data)
	if len(data) == 0 || data[len(data)-1] != '\n' {
		_, _ = p.out.Write([]byte{'\n'})
	}
}

// Error prints title, explanation and suggestions to the error stream and
// returns a plain error carrying the title for cobra.
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	red.Fprintf(p.err, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(p.err, "\n%s\n", explanation)
	}
	if len(suggestions) > 0 {
		fmt.Fprintln(p.err)
		if len(suggestions) == 1 {
			fmt.Fprintf(p.err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(p.err, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(p.err, "  %d. %s\n", i+1, suggestion)
			}
		}
	}
	return &ReportedError{Title: title}
}

// ReportedError is returned by Error once the message has been shown.
type ReportedError struct {
	Title string
}

func (e *ReportedError) Error() string {
	return e.Title
}

// Reported reports whether err was already printed by a Printer.
func Reported(err error) bool {
	var reported *ReportedError
	return errors.As(err, &reported)
}
