package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// printer writes command results as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) printer {
	return printer{format: opts.Format, w: w}
}

// print writes v as indented JSON, or calls text otherwise.
func (p printer) print(v any, text func(w io.Writer) error) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(p.w)
}

func (p printer) line(format string, args ...any) {
	if p.format == "json" {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}
