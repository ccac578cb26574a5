package file

import (
	"encoding/csv"
	"strings"
)

const previewMaxRows = 10

// buildCSVPreview renders the first previewMaxRows data rows of csv content
// as a markdown table, with the first row treated as the header.
func buildCSVPreview(content []byte) string {
	r := csv.NewReader(strings.NewReader(string(content)))
	r.FieldsPerRecord = -1

	var rows [][]string
	for len(rows) <= previewMaxRows {
		record, err := r.Read()
		if err != nil {
			break
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return ""
	}
	return renderMarkdownTable(rows)
}

// buildXLSXPreview renders the first line of the extracted sheet text as the
// header plus up to previewMaxRows lines after it (space-joined cells per
// row, per internal/extract's xlsx flattening) as a markdown table.
func buildXLSXPreview(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > previewMaxRows+1 {
		lines = lines[:previewMaxRows+1]
	}
	rows := make([][]string, len(lines))
	for i, line := range lines {
		rows[i] = strings.Fields(line)
	}
	return renderMarkdownTable(rows)
}

func renderMarkdownTable(rows [][]string) string {
	var b strings.Builder
	header := rows[0]
	b.WriteString("| ")
	b.WriteString(strings.Join(header, " | "))
	b.WriteString(" |\n|")
	for range header {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range rows[1:] {
		b.WriteString("| ")
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(" |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
