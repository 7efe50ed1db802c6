// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer writes command results in one format.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a Printer. Status lines are colored only when out is a
// terminal.
func NewPrinter(out io.Writer, format Format) *Printer {
	return &Printer{out: out, format: format, color: colorCapable(out)}
}

func colorCapable(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) Format() Format { return p.format }

func (p *Printer) Writer() io.Writer { return p.out }

// Print outputs data in the configured format. Table output needs a
// TableRenderer; anything else falls back to JSON.
func (p *Printer) Print(data any) error {
	if kv, ok := data.(KeyValues); ok {
		if p.format == FormatTable {
			return PrintKeyValues(p.out, kv)
		}
		data = kv.Map()
	}

	switch p.format {
	case FormatTable:
		if r, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// Printf prints a formatted message.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Status levels for Printer.Status.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

var statusColor = map[string]string{
	StatusOK:   "\033[32m",
	StatusWarn: "\033[33m",
	StatusFail: "\033[31m",
}

// Status prints a one-line result such as "[ok] 127.0.0.1:139 seq=1 rtt=1ms".
// Structured formats skip status lines so their output stays parseable.
func (p *Printer) Status(level, msg string) {
	if p.format != FormatTable {
		return
	}
	tag := "[" + level + "]"
	if c, ok := statusColor[level]; ok && p.color {
		tag = c + tag + "\033[0m"
	}
	_, _ = fmt.Fprintf(p.out, "%s %s\n", tag, msg)
}

// PrintJSON writes data as indented JSON.
func PrintJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintYAML writes data as YAML.
func PrintYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}
