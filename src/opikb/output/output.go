// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Supported formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Formats lists the accepted --output values
var Formats = []string{FormatTable, FormatJSON, FormatYAML}

// PrintJSON writes data as indented JSON
func PrintJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintYAML writes data as YAML
func PrintYAML(w io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// PrintTable writes tabular data
func PrintTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)

	for _, row := range rows {
		for i, col := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, col)
		}
		fmt.Fprintln(tw)
	}

	return tw.Flush()
}

// Table is data with a tabular rendering
type Table interface {
	Headers() []string
	Rows() [][]string
}

// Print renders t in format. json and yaml encode t itself.
func Print(w io.Writer, format string, t Table) error {
	switch format {
	case FormatTable, "":
		return PrintTable(w, t.Headers(), t.Rows())
	case FormatJSON:
		return PrintJSON(w, t)
	case FormatYAML:
		return PrintYAML(w, t)
	default:
		return fmt.Errorf("unsupported output format %q (use table, json or yaml)", format)
	}
}

// PrintError writes an error message
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
}
