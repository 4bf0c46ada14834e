package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format is an export encoding.
type Format string

// Export formats.
const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat parses a format name; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatHTML:
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown report format %q (want json or html)", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "application/json"
}

// EncodeJSON writes r as indented JSON.
func EncodeJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// DecodeJSON reads a report written by EncodeJSON.
func DecodeJSON(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// Export writes r to w in the given format.
func Export(w io.Writer, r *Report, f Format) error {
	switch f {
	case FormatHTML:
		doc, err := RenderHTML(r, HTMLConfig{})
		if err != nil {
			return err
		}
		_, err = w.Write(doc)
		return err
	case FormatJSON, "":
		return EncodeJSON(w, r)
	}
	return fmt.Errorf("unknown report format %q", f)
}

// WriteFile exports r to path, picking the format from the extension
// (.html/.htm for HTML, anything else JSON). The file is replaced atomically.
func WriteFile(path string, r *Report) error {
	f := FormatJSON
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".html" || ext == ".htm" {
		f = FormatHTML
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Export(tmp, r, f); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile loads a report exported by WriteFile.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".html" || ext == ".htm" {
		return ParseHTML(data)
	}
	return DecodeJSON(strings.NewReader(string(data)))
}
