package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a borderless, left-aligned table.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := newTable(w, "")
	table.SetHeader(data.Headers())
	table.SetAutoFormatHeaders(true)
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

func newTable(w io.Writer, sep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(sep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// Table is an ad-hoc TableRenderer.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Short rows are padded so every row has one cell
// per header.
func (t *Table) AddRow(cells ...string) {
	for len(cells) < len(t.headers) {
		cells = append(cells, "")
	}
	t.rows = append(t.rows, cells)
}

func (t *Table) Headers() []string { return t.headers }

func (t *Table) Rows() [][]string {
	if t.rows == nil {
		return [][]string{}
	}
	return t.rows
}

// KeyValues is an ordered list of labelled values for detail views, printed
// as "Label:  value" lines in table format and as an object otherwise.
type KeyValues [][2]string

// PrintKeyValues writes kv as a two-column table with ":" separators.
func PrintKeyValues(w io.Writer, kv KeyValues) error {
	table := newTable(w, ":")
	table.SetAutoFormatHeaders(false)
	for _, pair := range kv {
		table.Append([]string{pair[0], pair[1]})
	}
	table.Render()
	return nil
}

// Map returns kv as a map for JSON and YAML output.
func (kv KeyValues) Map() map[string]string {
	m := make(map[string]string, len(kv))
	for _, pair := range kv {
		m[pair[0]] = pair[1]
	}
	return m
}
