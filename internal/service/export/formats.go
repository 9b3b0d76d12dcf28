package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"

	"fleet-reports/internal/domain"
)

// JSONExporter writes an array of objects keyed by column, in column order.
type JSONExporter struct{}

// Format implements domain.Exporter.
func (JSONExporter) Format() domain.ExportFormat { return domain.ExportJSON }

// ContentType implements domain.Exporter.
func (JSONExporter) ContentType() string { return "application/json" }

// Export implements domain.Exporter.
func (JSONExporter) Export(w io.Writer, rows *domain.RowSet) error {
	bw := bufio.NewWriter(w)
	keys := make([][]byte, len(rows.Columns))
	for i, c := range rows.Columns {
		k, err := json.Marshal(c)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	bw.WriteByte('[')
	for r, row := range rows.Rows {
		if r > 0 {
			bw.WriteByte(',')
		}
		bw.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				bw.WriteByte(',')
			}
			var v interface{}
			if i < len(row) {
				v = row[i]
			}
			val, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", r, rows.Columns[i], err)
			}
			bw.Write(k)
			bw.WriteByte(':')
			bw.Write(val)
		}
		bw.WriteByte('}')
	}
	bw.WriteByte(']')
	return bw.Flush()
}

// CSVExporter writes a header row followed by one record per row.
type CSVExporter struct{}

// Format implements domain.Exporter.
func (CSVExporter) Format() domain.ExportFormat { return domain.ExportCSV }

// ContentType implements domain.Exporter.
func (CSVExporter) ContentType() string { return "text/csv" }

// Export implements domain.Exporter.
func (CSVExporter) Export(w io.Writer, rows *domain.RowSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rows.Columns); err != nil {
		return err
	}
	record := make([]string, len(rows.Columns))
	for _, row := range rows.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatCell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

const sheetName = "Report"

// XLSXExporter writes a single-sheet workbook with a bold header row.
type XLSXExporter struct{}

// Format implements domain.Exporter.
func (XLSXExporter) Format() domain.ExportFormat { return domain.ExportXLSX }

// ContentType implements domain.Exporter.
func (XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Export implements domain.Exporter.
func (XLSXExporter) Export(w io.Writer, rows *domain.RowSet) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	header := make([]interface{}, len(rows.Columns))
	for i, c := range rows.Columns {
		header[i] = excelize.Cell{StyleID: bold, Value: c}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for r, row := range rows.Rows {
		cells := make([]interface{}, len(rows.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = xlsxValue(row[i])
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

// xlsxValue keeps numbers and booleans native so spreadsheets can compute on
// them; everything else is written as text.
func xlsxValue(v interface{}) interface{} {
	switch v.(type) {
	case nil:
		return nil
	case int, int32, int64, float32, float64, bool:
		return v
	}
	return formatCell(v)
}
