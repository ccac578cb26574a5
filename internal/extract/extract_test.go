package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/chatforge-io/orchestrator/internal/jobs"
)

func TestExtractTXT(t *testing.T) {
	e := New()
	text, err := e.Extract(jobs.FileTypeTXT, []byte("  hello world  \n"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractCSV(t *testing.T) {
	e := New()
	text, err := e.Extract(jobs.FileTypeCSV, []byte("a,b,c\n1,2,3\n"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "a b c") || !strings.Contains(text, "1 2 3") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	e := New()
	if _, err := e.Extract(jobs.FileType("unknown"), []byte("x")); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func buildDocxFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<document xmlns="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <body>
    <p><r><t>Hello</t></r><r><t> world</t></r></p>
    <p><r><t>Second paragraph</t></r></p>
  </body>
</document>`))
	if err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	e := New()
	text, err := e.Extract(jobs.FileTypeDOCX, buildDocxFixture(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "Hello world") || !strings.Contains(text, "Second paragraph") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func buildXlsxFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	ss, err := zw.Create("xl/sharedStrings.xml")
	if err != nil {
		t.Fatal(err)
	}
	_, err = ss.Write([]byte(`<?xml version="1.0"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <si><t>Name</t></si>
  <si><t>Age</t></si>
</sst>`))
	if err != nil {
		t.Fatal(err)
	}

	sheet, err := zw.Create("xl/worksheets/sheet1.xml")
	if err != nil {
		t.Fatal(err)
	}
	_, err = sheet.Write([]byte(`<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row><c t="s"><v>0</v></c><c t="s"><v>1</v></c></row>
    <row><c><v>Alice</v></c><c><v>30</v></c></row>
  </sheetData>
</worksheet>`))
	if err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractXLSX(t *testing.T) {
	e := New()
	text, err := e.Extract(jobs.FileTypeXLSX, buildXlsxFixture(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "Name Age") || !strings.Contains(text, "Alice 30") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractPDFRejectsEmptyContent(t *testing.T) {
	e := New()
	if _, err := e.Extract(jobs.FileTypePDF, nil); err == nil {
		t.Fatal("expected error for empty pdf content")
	}
}
