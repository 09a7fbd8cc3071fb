package export

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"jobwatch-engine/internal/domain"
)

const sheetName = "Jobs"

type XLSXSink struct {
	path string
}

func NewXLSX(path string) *XLSXSink { return &XLSXSink{path: path} }

func (s *XLSXSink) Write(_ context.Context, listings []domain.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	header, rows := Table(listings)

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setRow(f, i+2, r); err != nil {
			return err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("encode xlsx: %w", err)
	}
	return writeAtomic(s.path, buf.Bytes())
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return f.SetSheetRow(sheetName, cell, &vals)
}
