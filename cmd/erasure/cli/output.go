// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"reflect"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// maxColumnWidth truncates long cells such as error notes.
const maxColumnWidth = 48

// WriteJSON writes value as indented JSON. A nil slice is written as
// [] rather than null.
func WriteJSON(w io.Writer, value any) error {
	if v := reflect.ValueOf(value); v.Kind() == reflect.Slice && v.IsNil() {
		value = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// Styles colors output for one writer.
type Styles struct {
	Header lipgloss.Style
	Good   lipgloss.Style
	Warn   lipgloss.Style
	Bad    lipgloss.Style
	Faint  lipgloss.Style
}

// NewStyles returns styles rendered for w. Non-terminals get the ASCII
// profile, so every style renders as plain text.
func NewStyles(w io.Writer) *Styles {
	renderer := lipgloss.NewRenderer(w)
	if !IsTerminal(w) {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &Styles{
		Header: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("252")),
		Good:   renderer.NewStyle().Foreground(lipgloss.Color("78")),
		Warn:   renderer.NewStyle().Foreground(lipgloss.Color("214")),
		Bad:    renderer.NewStyle().Foreground(lipgloss.Color("203")),
		Faint:  renderer.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

// Status colors a status word: good for healthy states, bad for
// failures, warn for anything in between.
func (s *Styles) Status(status string) string {
	switch status {
	case "closed", "verified", "succeeded", "ok", "valid":
		return s.Good.Render(status)
	case "open", "failed", "mismatch", "invalid":
		return s.Bad.Render(status)
	case "":
		return ""
	default:
		return s.Warn.Render(status)
	}
}

// Table is a column-aligned listing. Cells may already carry styling;
// widths are measured on the visible text.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable starts a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row appends a row. Missing cells render empty.
func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len is the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w.
func (t *Table) Render(w io.Writer, styles *Styles) error {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = ansi.StringWidth(header)
	}
	for _, row := range t.rows {
		for i := range widths {
			if i < len(row) {
				widths[i] = max(widths[i], min(ansi.StringWidth(row[i]), maxColumnWidth))
			}
		}
	}

	var builder strings.Builder
	header := make([]string, len(t.headers))
	for i, name := range t.headers {
		header[i] = styles.Header.Render(pad(name, widths[i]))
	}
	builder.WriteString(strings.TrimRight(strings.Join(header, "  "), " "))
	builder.WriteByte('\n')

	for _, row := range t.rows {
		cells := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = ansi.Truncate(row[i], widths[i], "…")
			}
			cells[i] = pad(cell, widths[i])
		}
		builder.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		builder.WriteByte('\n')
	}
	_, err := io.WriteString(w, builder.String())
	return err
}

func pad(cell string, width int) string {
	if gap := width - ansi.StringWidth(cell); gap > 0 {
		return cell + strings.Repeat(" ", gap)
	}
	return cell
}
