package cmdfmt

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Minimum width a wrapped cell is allowed to shrink to.
const minCellWidth = 20

type renderer interface {
	SetColumnConfigs(configs []table.ColumnConfig)
	AppendRow(row table.Row, configs ...table.RowConfig)
	Render() string
}

// Printomatic prints rows of structured data as a table or as JSON depending on the global output
// settings. Rows are buffered and flushed every --page-size rows, call PrintRemaining once all
// rows were added.
type Printomatic struct {
	columns  []table.ColumnConfig
	header   table.Row
	output   config.OutputType
	pageSize uint
	maxCell  uint
	rows     []table.Row
	printed  bool
}

// NewPrintomatic returns a Printomatic for allColumns. Only defaultColumns are printed unless
// other columns (or "all") were requested with --columns.
func NewPrintomatic(allColumns []string, defaultColumns []string) Printomatic {
	selected := defaultColumns
	if requested := viper.GetStringSlice(config.ColumnsKey); len(requested) != 0 {
		selected = requested
	}
	printAll := slices.Contains(selected, "all")

	p := Printomatic{
		columns:  make([]table.ColumnConfig, 0, len(allColumns)),
		header:   make(table.Row, 0, len(allColumns)),
		output:   outputType(),
		pageSize: viper.GetUint(config.PageSizeKey),
	}
	visible := 0
	for _, c := range allColumns {
		hidden := !printAll && !slices.Contains(selected, c)
		if !hidden {
			visible++
		}
		p.columns = append(p.columns, table.ColumnConfig{Name: c, Hidden: hidden})
		p.header = append(p.header, c)
	}

	if p.output == config.OutputTable && visible > 0 {
		if f, ok := stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			if width, _, err := term.GetSize(int(f.Fd())); err == nil {
				p.maxCell = uint(max(width/visible, minCellWidth))
			}
		}
	}
	return p
}

func outputType() config.OutputType {
	switch o := config.OutputType(viper.GetString(config.OutputKey)); o {
	case config.OutputJSON, config.OutputJSONPretty, config.OutputNDJSON:
		return o
	default:
		return config.OutputTable
	}
}

// AddItem adds a row. The number of items must match the number of columns passed to
// NewPrintomatic.
func (p *Printomatic) AddItem(items ...any) {
	if len(items) != len(p.columns) {
		panic(fmt.Sprintf("number of items %d does not match the number of columns %d (this is likely a bug)", len(items), len(p.columns)))
	}
	row := make(table.Row, len(items))
	for i, item := range items {
		if s, ok := item.(string); ok && p.maxCell > 0 && uint(len(s)) > p.maxCell {
			item = wordwrap.WrapString(s, p.maxCell)
		}
		row[i] = item
	}
	p.rows = append(p.rows, row)
	if p.streaming() || (p.pageSize != 0 && uint(len(p.rows)) >= p.pageSize) {
		p.flush()
	}
}

// PrintRemaining prints all buffered rows.
func (p *Printomatic) PrintRemaining() {
	if len(p.rows) != 0 {
		p.flush()
		return
	}
	if !p.printed && (p.output == config.OutputJSON || p.output == config.OutputJSONPretty) {
		fmt.Fprintln(stdout, "[]")
		p.printed = true
	}
}

// Rows are written immediately when printing NDJSON or when the page size is zero.
func (p *Printomatic) streaming() bool {
	return p.output == config.OutputNDJSON || p.pageSize == 0
}

func (p *Printomatic) flush() {
	defer func() {
		p.rows = p.rows[:0]
		p.printed = true
	}()

	switch {
	case p.output == config.OutputNDJSON || (p.output != config.OutputTable && p.pageSize == 0):
		r := newJSONPrinter(false)
		r.SetColumnConfigs(p.columns)
		for _, row := range p.rows {
			r.AppendRow(row)
		}
		fmt.Fprintln(stdout, r.RenderLines())
		return
	case p.output == config.OutputJSON || p.output == config.OutputJSONPretty:
		r := newJSONPrinter(p.output == config.OutputJSONPretty)
		p.render(r, false)
		return
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleDefault)
	tbl.Style().Options = table.OptionsNoBordersAndSeparators
	tbl.Style().Format.Header = text.FormatUpper
	if p.pageSize != 0 {
		tbl.AppendHeader(p.header)
	}
	p.render(tbl, true)
}

func (p *Printomatic) render(r renderer, isTable bool) {
	r.SetColumnConfigs(p.columns)
	for _, row := range p.rows {
		r.AppendRow(row)
	}
	out := r.Render()
	if isTable && out == "" {
		return
	}
	fmt.Fprintln(stdout, out)
}

// Printf prints human readable messages such as summaries. When structured output was requested
// the message goes to stderr so stdout stays machine readable.
func Printf(format string, a ...any) {
	if outputType() != config.OutputTable {
		fmt.Fprintf(stderr, format, a...)
		return
	}
	fmt.Fprintf(stdout, format, a...)
}
