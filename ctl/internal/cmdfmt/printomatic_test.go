package cmdfmt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	origOut, origErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() {
		stdout, stderr = origOut, origErr
		viper.Reset()
	})
	return &out, &errOut
}

func TestPrintomaticTable(t *testing.T) {
	out, _ := capture(t)
	viper.Set(config.PageSizeKey, 100)

	tbl := NewPrintomatic([]string{"path", "outcome", "hash"}, []string{"path", "outcome"})
	tbl.AddItem("images/hero.jpg", "processed", "abc123")
	tbl.AddItem("images/logo.svg", "unchanged", "def456")
	assert.Empty(t, out.String(), "rows should be buffered until the page is full")
	tbl.PrintRemaining()

	printed := out.String()
	assert.Contains(t, printed, "PATH")
	assert.Contains(t, printed, "images/hero.jpg")
	assert.Contains(t, printed, "unchanged")
	assert.NotContains(t, printed, "HASH")
	assert.NotContains(t, printed, "abc123")
}

func TestPrintomaticColumns(t *testing.T) {
	out, _ := capture(t)
	viper.Set(config.PageSizeKey, 100)
	viper.Set(config.ColumnsKey, []string{"all"})

	tbl := NewPrintomatic([]string{"path", "hash"}, []string{"path"})
	tbl.AddItem("images/hero.jpg", "abc123")
	tbl.PrintRemaining()
	assert.Contains(t, out.String(), "abc123")
}

func TestPrintomaticPaging(t *testing.T) {
	out, _ := capture(t)
	viper.Set(config.PageSizeKey, 2)

	tbl := NewPrintomatic([]string{"n"}, []string{"n"})
	for i := range 5 {
		tbl.AddItem(i)
	}
	tbl.PrintRemaining()
	headers := 0
	for line := range strings.Lines(out.String()) {
		if strings.TrimSpace(line) == "N" {
			headers++
		}
	}
	assert.Equal(t, 3, headers, "header should repeat for every page")
}

func TestPrintomaticJSON(t *testing.T) {
	out, _ := capture(t)
	viper.Set(config.PageSizeKey, 100)
	viper.Set(config.OutputKey, config.OutputJSON.String())

	tbl := NewPrintomatic([]string{"path", "outputs"}, []string{"path", "outputs"})
	tbl.AddItem("images/hero.jpg", 6)
	tbl.PrintRemaining()
	assert.JSONEq(t, `[{"path":"images/hero.jpg","outputs":6}]`, out.String())
}

func TestPrintomaticJSONEmpty(t *testing.T) {
	out, _ := capture(t)
	viper.Set(config.PageSizeKey, 100)
	viper.Set(config.OutputKey, config.OutputJSON.String())

	tbl := NewPrintomatic([]string{"path"}, []string{"path"})
	tbl.PrintRemaining()
	assert.Equal(t, "[]\n", out.String())
}

func TestPrintomaticNDJSON(t *testing.T) {
	out, _ := capture(t)
	viper.Set(config.PageSizeKey, 100)
	viper.Set(config.OutputKey, config.OutputNDJSON.String())

	tbl := NewPrintomatic([]string{"path"}, []string{"path"})
	tbl.AddItem("a.jpg")
	require.Equal(t, "{\"path\":\"a.jpg\"}\n", out.String(), "ndjson rows are written immediately")
	tbl.AddItem("b.jpg")
	tbl.PrintRemaining()
	assert.Equal(t, "{\"path\":\"a.jpg\"}\n{\"path\":\"b.jpg\"}\n", out.String())
}

func TestPrintomaticMismatchedRow(t *testing.T) {
	capture(t)
	tbl := NewPrintomatic([]string{"a", "b"}, []string{"a"})
	assert.Panics(t, func() { tbl.AddItem("only one") })
}

func TestPrintf(t *testing.T) {
	out, errOut := capture(t)
	Printf("Summary: %d\n", 1)
	assert.Equal(t, "Summary: 1\n", out.String())

	viper.Set(config.OutputKey, config.OutputJSON.String())
	Printf("Summary: %d\n", 2)
	assert.Equal(t, "Summary: 1\n", out.String())
	assert.Equal(t, "Summary: 2\n", errOut.String())
}
