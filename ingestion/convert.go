package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/fabfab/fundlens/models"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var extensionTypes = map[string]models.SourceType{
	".pdf":  models.SourcePDF,
	".docx": models.SourceDOCX,
	".doc":  models.SourceDOCX,
	".txt":  models.SourceTXT,
	".md":   models.SourceTXT,
	".csv":  models.SourceCSV,
}

// DetectSourceType sniffs binary formats from the content, then trusts the
// file extension, then sniffs for CSV. Anything else is plain text.
func DetectSourceType(filename string, data []byte) models.SourceType {
	m := mimetype.Detect(data)
	switch {
	case m.Is("application/pdf"):
		return models.SourcePDF
	case m.Is(docxMIME):
		return models.SourceDOCX
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	if m.Is("text/csv") {
		return models.SourceCSV
	}
	return models.SourceTXT
}

// ToMarkdown converts an attachment to the text that gets chunked.
func ToMarkdown(kind models.SourceType, data []byte) (string, error) {
	switch kind {
	case models.SourcePDF:
		text, _, err := PDFText(data)
		return text, err
	case models.SourceDOCX:
		return DOCXText(data)
	case models.SourceCSV:
		return CSVToMarkdown(data)
	default:
		return decodeText(data), nil
	}
}

// PDFText extracts the plain text layer and the page count.
func PDFText(data []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", 0, fmt.Errorf("read pdf text: %w", err)
	}
	return normalizePlainText(buf.String()), r.NumPage(), nil
}

// DOCXText reads the paragraphs of word/document.xml, one per line.
func DOCXText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("open docx: word/document.xml missing")
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open docx body: %w", err)
	}
	defer rc.Close()

	var (
		out  strings.Builder
		para strings.Builder
		inT  bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if line := strings.TrimSpace(para.String()); line != "" {
					out.WriteString(line)
					out.WriteString("\n\n")
				}
				para.Reset()
			}
		case xml.CharData:
			if inT {
				para.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// CSVToMarkdown renders the first row as the header of a markdown table.
// Short rows are padded and long rows cut to the header width.
func CSVToMarkdown(data []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(decodeText(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}

	header := rows[0]
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, "| "+strings.Join(header, " | ")+" |")
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
	for _, row := range rows[1:] {
		for len(row) < len(header) {
			row = append(row, "")
		}
		lines = append(lines, "| "+strings.Join(row[:len(header)], " | ")+" |")
	}
	return strings.Join(lines, "\n"), nil
}

// decodeText drops invalid UTF-8 instead of failing.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
