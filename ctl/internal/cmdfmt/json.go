package cmdfmt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// jsonPrinter collects rows like a go-pretty table writer but renders them as JSON objects keyed
// by column name. Hidden columns are omitted.
type jsonPrinter struct {
	columns []table.ColumnConfig
	rows    []map[string]any
	pretty  bool
}

func newJSONPrinter(pretty bool) *jsonPrinter {
	return &jsonPrinter{
		rows:   []map[string]any{},
		pretty: pretty,
	}
}

func (p *jsonPrinter) SetColumnConfigs(configs []table.ColumnConfig) {
	p.columns = configs
}

func (p *jsonPrinter) AppendRow(row table.Row, configs ...table.RowConfig) {
	if len(p.columns) != len(row) {
		panic(fmt.Sprintf("unable to print json, the number of keys %d does not match the number of values %d (this is likely a bug)", len(p.columns), len(row)))
	}
	item := make(map[string]any, len(row))
	for i, col := range p.columns {
		if !col.Hidden {
			item[col.Name] = row[i]
		}
	}
	p.rows = append(p.rows, item)
}

// Render returns all rows as a single JSON list.
func (p *jsonPrinter) Render() string {
	if p.pretty {
		return mustMarshal(json.MarshalIndent(p.rows, "", "  "))
	}
	return mustMarshal(json.Marshal(p.rows))
}

// RenderLines returns one JSON object per line (NDJSON) without a trailing newline.
func (p *jsonPrinter) RenderLines() string {
	lines := make([]string, 0, len(p.rows))
	for _, row := range p.rows {
		lines = append(lines, mustMarshal(json.Marshal(row)))
	}
	return strings.Join(lines, "\n")
}

func mustMarshal(out []byte, err error) string {
	if err != nil {
		panic("unable to marshal json (this is likely a bug): " + err.Error())
	}
	return string(out)
}
