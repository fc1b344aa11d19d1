package common

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Printer renders command output as lipgloss tables, or as JSON for
// machine consumers.
type Printer struct {
	W    io.Writer
	JSON bool
}

// Table prints rows under headers. In JSON mode each row becomes an object
// keyed by header.
func (p Printer) Table(headers []string, rows [][]string) error {
	if p.JSON {
		out := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			m := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(row) {
					m[h] = row[i]
				}
			}
			out = append(out, m)
		}
		return p.encode(out)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(p.W, t.String())
	return err
}

// Result prints a one line outcome with optional detail lines.
func (p Printer) Result(ok bool, title string, details []string, err error) error {
	if p.JSON {
		return PrintCIResult(p.W, ok, title, details, err)
	}
	status := okStyle.Render("OK")
	if !ok {
		status = failStyle.Render("FAIL")
	}
	if _, werr := fmt.Fprintf(p.W, "%s %s\n", status, title); werr != nil {
		return werr
	}
	for _, d := range details {
		if _, werr := fmt.Fprintf(p.W, "  %s\n", d); werr != nil {
			return werr
		}
	}
	if err != nil {
		_, werr := fmt.Fprintf(p.W, "  error: %v\n", err)
		return werr
	}
	return nil
}

func (p Printer) encode(v any) error {
	enc := json.NewEncoder(p.W)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type ciResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes a machine readable outcome.
func PrintCIResult(w io.Writer, ok bool, title string, details []string, err error) error {
	res := ciResult{OK: ok, Title: title, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	return json.NewEncoder(w).Encode(res)
}
