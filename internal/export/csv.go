package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"jobwatch-engine/internal/domain"
)

// utf8BOM makes spreadsheet apps detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type CSVSink struct {
	path string
}

func NewCSV(path string) *CSVSink { return &CSVSink{path: path} }

// Write replaces the file atomically. Nothing is written for an empty cycle.
func (s *CSVSink) Write(_ context.Context, listings []domain.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	header, rows := Table(listings)

	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}

	return writeAtomic(s.path, buf.Bytes())
}

func writeAtomic(path string, b []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}
