// Package upload разбирает файлы массовой загрузки номеров (xlsx, csv, txt)
// и собирает шаблоны/выгрузки для админки.
package upload

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/BearBump/TrackPool/internal/trackingnum"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatTXT  Format = "txt"
)

const (
	HeaderTrackingNumber = "Tracking Number"

	sheetName = "Tracking Numbers"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); f {
	case FormatXLSX, FormatCSV, FormatTXT:
		return f, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%q", s)
	}
}

func FormatFromFilename(name string) (Format, error) {
	return ParseFormat(filepath.Ext(name))
}

func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/plain"
	}
}

// ReadCandidates достаёт сырые номера: первый столбец первого листа для xlsx,
// первое поле каждой записи для csv, каждую строку для txt.
// Пустые значения пропускаются, заголовок не распознаётся и уходит в invalid.
func ReadCandidates(r io.Reader, f Format) ([]string, error) {
	var (
		out []string
		err error
	)
	switch f {
	case FormatXLSX:
		out, err = readXLSX(r)
	case FormatCSV:
		out, err = readCSV(r)
	case FormatTXT:
		out, err = readLines(r)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", f)
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrap(models.ErrInvalidArgument, "no tracking numbers found in file")
	}
	return out, nil
}

func readXLSX(r io.Reader) ([]string, error) {
	x, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(models.ErrInvalidArgument, "parse xlsx: "+err.Error())
	}
	defer x.Close()

	sheet := x.GetSheetName(0)
	if sheet == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "xlsx has no sheets")
	}
	// без форматирования: формат "0" дорисовал бы нули к округлённому float
	rows, err := x.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrap(err, "read xlsx rows")
	}

	out := make([]string, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(row[0]); v != "" {
			out = append(out, numericCell(x, sheet, i+1, v))
		}
	}
	return out, nil
}

// numericCell: числовая ячейка хранит float64, 20+ цифр в него не помещаются.
// Такое значение отдаётся в экспоненциальной записи и при загрузке уходит в invalid.
func numericCell(x *excelize.File, sheet string, row int, v string) string {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return v
	}
	typ, err := x.GetCellType(sheet, cell)
	if err != nil || (typ != excelize.CellTypeNumber && typ != excelize.CellTypeUnset) {
		return v
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return strconv.FormatFloat(f, 'E', -1, 64)
}

func readCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var out []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrap(models.ErrInvalidArgument, "parse csv: "+err.Error())
		}
		if len(rec) == 0 {
			continue
		}
		if v := strings.TrimSpace(rec[0]); v != "" {
			out = append(out, v)
		}
	}
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []string
	for sc.Scan() {
		if v := strings.TrimSpace(sc.Text()); v != "" {
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read lines")
	}
	return out, nil
}

var templateSamples = []string{
	"9405536207565275376438",
	"9405536207565275376439",
	"9405536207565275376440",
	"9405536207565275376441",
	"9405536207565275376442",
}

// WriteTemplate пишет шаблон загрузки: заголовок и пять примеров.
func WriteTemplate(w io.Writer, f Format) error {
	switch f {
	case FormatXLSX:
		rows := make([][]any, 0, len(templateSamples)+1)
		rows = append(rows, []any{HeaderTrackingNumber})
		for _, s := range templateSamples {
			rows = append(rows, []any{s})
		}
		return writeXLSX(w, rows, []float64{28})
	case FormatCSV:
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{HeaderTrackingNumber})
		for _, s := range templateSamples {
			_ = cw.Write([]string{s})
		}
		cw.Flush()
		return errors.Wrap(cw.Error(), "write csv template")
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "template %q", f)
	}
}

var exportHeader = []string{"Tracking Number", "Display", "State", "Assigned To", "Assigned At", "Used At", "Label ID", "Created At"}

// WriteExport выгружает номера в csv или xlsx.
func WriteExport(w io.Writer, f Format, items []*models.TrackingID) error {
	records := make([][]string, 0, len(items)+1)
	records = append(records, exportHeader)
	for _, t := range items {
		records = append(records, []string{
			t.Number,
			trackingnum.Format(t.Number),
			string(t.State),
			uuidOrEmpty(t.AssignedTo),
			timeOrEmpty(t.AssignedAt),
			timeOrEmpty(t.UsedAt),
			uuidOrEmpty(t.UsedInLabel),
			t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	switch f {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(records); err != nil {
			return errors.Wrap(err, "write csv export")
		}
		return nil
	case FormatXLSX:
		rows := make([][]any, len(records))
		for i, rec := range records {
			row := make([]any, len(rec))
			for j, v := range rec {
				row[j] = v
			}
			rows[i] = row
		}
		return writeXLSX(w, rows, []float64{26, 30, 10, 38, 22, 22, 38, 22})
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "export %q", f)
	}
}

func writeXLSX(w io.Writer, rows [][]any, widths []float64) error {
	x := excelize.NewFile()
	defer x.Close()

	if err := x.SetSheetName("Sheet1", sheetName); err != nil {
		return errors.Wrap(err, "rename sheet")
	}

	bold, err := x.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "header style")
	}

	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return errors.Wrap(err, "column name")
		}
		if err := x.SetColWidth(sheetName, col, col, width); err != nil {
			return errors.Wrap(err, "column width")
		}
	}

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		// строками, иначе Excel превратит 22 цифры в 9.4E+21
		if err := x.SetSheetRow(sheetName, cell, &row); err != nil {
			return errors.Wrapf(err, "write row %d", r+1)
		}
		if r == 0 {
			last, _ := excelize.CoordinatesToCellName(len(row), 1)
			if err := x.SetCellStyle(sheetName, cell, last, bold); err != nil {
				return errors.Wrap(err, "header style")
			}
		}
	}

	var buf bytes.Buffer
	if _, err := x.WriteTo(&buf); err != nil {
		return errors.Wrap(err, "write xlsx")
	}
	_, err = w.Write(buf.Bytes())
	return errors.Wrap(err, "write xlsx")
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
