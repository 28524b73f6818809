package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jhump/annoboot/processor"
)

var (
	posColor  = color.New(color.Bold)
	kindColor = color.New(color.FgHiRed, color.Bold)
	hintColor = color.New(color.FgHiCyan)
	docColor  = color.New(color.FgHiBlue, color.Faint)
)

// printError reports err to w. Diagnostics are printed one per line, each
// followed by its hint and documentation link.
func printError(w io.Writer, err error) {
	var diags processor.Diagnostics
	var single *processor.ErrorWithPosition
	switch {
	case errors.As(err, &diags):
	case errors.As(err, &single):
		diags = processor.Diagnostics{single}
	default:
		fmt.Fprintf(w, "%s %v\n", kindColor.Sprint("error:"), err)
		return
	}
	for _, d := range diags {
		pos := d.Pos()
		fmt.Fprintf(w, "%s %s %v\n",
			posColor.Sprintf("%s:%d:%d:", pos.Filename, pos.Line, pos.Column),
			kindColor.Sprintf("error[%s]:", d.Kind()),
			d.Underlying())
		if d.Hint != "" {
			fmt.Fprintf(w, "    %s %s\n", hintColor.Sprint("hint:"), d.Hint)
		}
		if d.Doc != "" {
			fmt.Fprintf(w, "    %s %s\n", docColor.Sprint("see:"), d.Doc)
		}
	}
	if len(diags) > 1 {
		fmt.Fprintf(w, "%d errors\n", len(diags))
	}
}
