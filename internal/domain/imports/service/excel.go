package service

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// decodeSpreadsheet reads the transaction sheet of an Excel export into a
// header row plus data records, padding ragged rows to the header width.
func decodeSpreadsheet(data []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := findTransactionSheet(f)
	if sheet == "" {
		return nil, nil, fmt.Errorf("spreadsheet has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}

	headers := trimAll(rows[0])
	var records [][]string
	for _, row := range rows[1:] {
		if isBlankRecord(row) {
			continue
		}
		record := make([]string, len(headers))
		copy(record, row)
		records = append(records, record)
	}
	return headers, records, nil
}

// findTransactionSheet prefers a sheet named like "transactions" and falls
// back to the first sheet.
func findTransactionSheet(f *excelize.File) string {
	sheets := f.GetSheetList()
	for _, name := range sheets {
		if strings.Contains(strings.ToLower(name), "transaction") {
			return name
		}
	}
	if len(sheets) > 0 {
		return sheets[0]
	}
	return ""
}
