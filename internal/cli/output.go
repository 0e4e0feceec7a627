package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes headers and rows as aligned columns.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// parseDelimiter accepts the escapes people type on a shell line.
func parseDelimiter(s string) (string, error) {
	switch s {
	case "":
		return ",", nil
	case `\t`, "tab", "\t":
		return "\t", nil
	}
	if strings.ContainsAny(s, "\r\n") {
		return "", fmt.Errorf("invalid delimiter %q: line breaks cannot separate fields", s)
	}
	return s, nil
}
