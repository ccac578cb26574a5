// Package extract turns uploaded file bytes into plain text for chunking.
// The PDF path is grounded on nevindra-oasis/ingest/pdf/extractor.go
// (ledongthuc/pdf). txt/csv use the standard library directly since they are
// already text; docx/xlsx also fall back to the standard library
// (archive/zip + encoding/xml) because no docx/xlsx library appears anywhere
// in the retrieved pack — see DESIGN.md.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/chatforge-io/orchestrator/internal/jobs"
)

// Extractor turns the raw bytes of a file of the given type into plain text.
type Extractor interface {
	Extract(fileType jobs.FileType, content []byte) (string, error)
}

// Default dispatches to the per-type extractor functions below.
type Default struct{}

// New returns the default multi-format extractor.
func New() Default { return Default{} }

func (Default) Extract(fileType jobs.FileType, content []byte) (string, error) {
	switch fileType {
	case jobs.FileTypePDF:
		return extractPDF(content)
	case jobs.FileTypeTXT:
		return extractTXT(content)
	case jobs.FileTypeCSV:
		return extractCSV(content)
	case jobs.FileTypeDOCX:
		return extractDOCX(content)
	case jobs.FileTypeXLSX:
		return extractXLSX(content)
	default:
		return "", fmt.Errorf("extract: unsupported file type %q", fileType)
	}
}

func extractPDF(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("extract: empty pdf content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract: open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract: read pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extract: drain pdf text: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}

func extractTXT(content []byte) (string, error) {
	return strings.TrimSpace(string(content)), nil
}

// extractCSV flattens rows into space-joined lines, one per row, so the
// downstream chunker sees prose rather than a comma-delimited grid.
func extractCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	var b strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("extract: read csv: %w", err)
		}
		b.WriteString(strings.Join(record, " "))
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

// docxParagraph/docxRun/docxText mirror just enough of word/document.xml's
// shape to pull out run text in document order.
type docxText struct {
	XMLName xml.Name `xml:"document"`
	Body    struct {
		Paragraphs []struct {
			Runs []struct {
				Text []string `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract: open docx: %w", err)
	}
	f, err := zr.Open("word/document.xml")
	if err != nil {
		return "", fmt.Errorf("extract: docx missing document.xml: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("extract: read document.xml: %w", err)
	}

	var doc docxText
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("extract: parse document.xml: %w", err)
	}

	var b strings.Builder
	for _, p := range doc.Body.Paragraphs {
		for _, run := range p.Runs {
			for _, t := range run.Text {
				b.WriteString(t)
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

type xlsxSharedStrings struct {
	XMLName xml.Name `xml:"sst"`
	Items   []struct {
		Text string `xml:"t"`
	} `xml:"si"`
}

type xlsxSheet struct {
	XMLName xml.Name `xml:"worksheet"`
	SheetData struct {
		Rows []struct {
			Cells []struct {
				Type  string `xml:"t,attr"`
				Value string `xml:"v"`
			} `xml:"c"`
		} `xml:"row"`
	} `xml:"sheetData"`
}

// extractXLSX reads the first sheet and resolves shared-string cell
// references, flattening each row into a space-joined line.
func extractXLSX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract: open xlsx: %w", err)
	}

	var shared []string
	if f, err := zr.Open("xl/sharedStrings.xml"); err == nil {
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("extract: read sharedStrings.xml: %w", err)
		}
		var ss xlsxSharedStrings
		if err := xml.Unmarshal(data, &ss); err != nil {
			return "", fmt.Errorf("extract: parse sharedStrings.xml: %w", err)
		}
		for _, item := range ss.Items {
			shared = append(shared, item.Text)
		}
	}

	sf, err := zr.Open("xl/worksheets/sheet1.xml")
	if err != nil {
		return "", fmt.Errorf("extract: xlsx missing sheet1.xml: %w", err)
	}
	defer sf.Close()
	data, err := io.ReadAll(sf)
	if err != nil {
		return "", fmt.Errorf("extract: read sheet1.xml: %w", err)
	}

	var sheet xlsxSheet
	if err := xml.Unmarshal(data, &sheet); err != nil {
		return "", fmt.Errorf("extract: parse sheet1.xml: %w", err)
	}

	var b strings.Builder
	for _, row := range sheet.SheetData.Rows {
		var cells []string
		for _, c := range row.Cells {
			if c.Type == "s" {
				if idx, err := parseIndex(c.Value); err == nil && idx >= 0 && idx < len(shared) {
					cells = append(cells, shared[idx])
					continue
				}
			}
			cells = append(cells, c.Value)
		}
		b.WriteString(strings.Join(cells, " "))
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

func parseIndex(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
