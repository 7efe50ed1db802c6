package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "table", want: FormatTable},
		{input: "", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "yml", want: FormatYAML},
		{input: "  yaml  ", want: FormatYAML},
		{input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestPrintTable(t *testing.T) {
	tbl := NewTable("Family", "Name")
	tbl.AddRow("1", "nbtcp")
	tbl.AddRow("2")

	require.Len(t, tbl.Rows(), 2)
	assert.Equal(t, []string{"2", ""}, tbl.Rows()[1], "short rows are padded")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(tbl))

	out := buf.String()
	assert.Contains(t, out, "FAMILY")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "nbtcp")
}

func TestEmptyTableRows(t *testing.T) {
	assert.NotNil(t, NewTable("A").Rows())
}

func TestPrintStructured(t *testing.T) {
	data := map[string]int{"sent": 3, "received": 3}

	var jbuf bytes.Buffer
	require.NoError(t, NewPrinter(&jbuf, FormatJSON).Print(data))
	var fromJSON map[string]int
	require.NoError(t, json.Unmarshal(jbuf.Bytes(), &fromJSON))
	assert.Equal(t, data, fromJSON)

	var ybuf bytes.Buffer
	require.NoError(t, NewPrinter(&ybuf, FormatYAML).Print(data))
	var fromYAML map[string]int
	require.NoError(t, yaml.Unmarshal(ybuf.Bytes(), &fromYAML))
	assert.Equal(t, data, fromYAML)
}

func TestTableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print([]string{"a"}))
	assert.JSONEq(t, `["a"]`, buf.String())
}

func TestKeyValues(t *testing.T) {
	kv := KeyValues{{"Remote", "127.0.0.1:139"}, {"Variant", "length24"}}

	var tbuf bytes.Buffer
	require.NoError(t, NewPrinter(&tbuf, FormatTable).Print(kv))
	assert.Contains(t, tbuf.String(), "Remote")
	assert.Contains(t, tbuf.String(), "127.0.0.1:139")

	var jbuf bytes.Buffer
	require.NoError(t, NewPrinter(&jbuf, FormatJSON).Print(kv))
	assert.JSONEq(t, `{"Remote":"127.0.0.1:139","Variant":"length24"}`, jbuf.String())
}

func TestStatus(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)
	p.Status(StatusOK, "seq=1 rtt=2ms")
	assert.Equal(t, "[ok] seq=1 rtt=2ms\n", buf.String(), "buffers are never colored")

	buf.Reset()
	NewPrinter(&buf, FormatJSON).Status(StatusFail, "boom")
	assert.Empty(t, buf.String())
}

func TestUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewPrinter(&buf, Format("xml")).Print(1))
}
