package upload

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/BearBump/TrackPool/internal/trackingnum"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestFormatFromFilename(t *testing.T) {
	f, err := FormatFromFilename("numbers.XLSX")
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, f)

	f, err = FormatFromFilename("a.b.csv")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, f)

	_, err = FormatFromFilename("numbers.xls")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = FormatFromFilename("numbers")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadCandidates_TXT(t *testing.T) {
	in := "9405536207565275376438\r\n\n   \n 9405 5362 0756 5275 3764 39 \nbad\n"
	out, err := ReadCandidates(strings.NewReader(in), FormatTXT)
	require.NoError(t, err)
	require.Equal(t, []string{"9405536207565275376438", "9405 5362 0756 5275 3764 39", "bad"}, out)
}

func TestReadCandidates_CSV_FirstField(t *testing.T) {
	in := "Tracking Number,Note\n9405536207565275376438,first\n,empty\n\"9405536207565275376439\"\n"
	out, err := ReadCandidates(strings.NewReader(in), FormatCSV)
	require.NoError(t, err)
	require.Equal(t, []string{"Tracking Number", "9405536207565275376438", "9405536207565275376439"}, out)
}

func TestReadCandidates_Empty(t *testing.T) {
	_, err := ReadCandidates(strings.NewReader("\n  \n"), FormatTXT)
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = ReadCandidates(strings.NewReader("x"), Format("xls"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadCandidates_XLSX_BadFile(t *testing.T) {
	_, err := ReadCandidates(strings.NewReader("not a zip"), FormatXLSX)
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestReadCandidates_XLSX_NumericCells(t *testing.T) {
	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	require.NoError(t, x.SetCellValue(sheet, "A1", HeaderTrackingNumber))
	require.NoError(t, x.SetCellValue(sheet, "A2", "9405536207565275376438"))
	// 22 цифры в float64 не помещаются
	require.NoError(t, x.SetCellValue(sheet, "A3", 9405536207565275376439.0))
	require.NoError(t, x.SetCellValue(sheet, "A4", 12))
	// формат "0" показал бы 22 цифры с нулями в хвосте
	style, err := x.NewStyle(&excelize.Style{NumFmt: 1})
	require.NoError(t, err)
	require.NoError(t, x.SetCellStyle(sheet, "A3", "A3", style))
	var buf bytes.Buffer
	require.NoError(t, x.Write(&buf))
	require.NoError(t, x.Close())

	out, err := ReadCandidates(bytes.NewReader(buf.Bytes()), FormatXLSX)
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, HeaderTrackingNumber, out[0])
	require.Equal(t, "9405536207565275376438", out[1])
	require.Contains(t, out[2], "E+21")
	require.True(t, trackingnum.Imprecise(out[2]))
	require.Equal(t, "1.2E+01", out[3])
}

func TestTemplate_XLSX_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf, FormatXLSX))

	x, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer x.Close()
	require.Equal(t, "Tracking Numbers", x.GetSheetName(0))

	out, err := ReadCandidates(bytes.NewReader(buf.Bytes()), FormatXLSX)
	require.NoError(t, err)
	require.Len(t, out, 6)
	require.Equal(t, HeaderTrackingNumber, out[0])
	require.Equal(t, "9405536207565275376438", out[1])
	require.Equal(t, "9405536207565275376442", out[5])
}

func TestTemplate_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf, FormatCSV))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	require.Equal(t, HeaderTrackingNumber, lines[0])

	require.ErrorIs(t, WriteTemplate(&buf, FormatTXT), ErrUnsupportedFormat)
}

func TestWriteExport(t *testing.T) {
	user := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	items := []*models.TrackingID{
		{Number: "9405536207565275376438", State: models.TrackingStateAssigned, AssignedTo: &user, AssignedAt: &at, CreatedAt: at},
		{Number: "94055362075652753764", State: models.TrackingStateAvailable, CreatedAt: at},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, FormatCSV, items))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "9405 5362 0756 5275 3764 38", recs[1][1])
	require.Equal(t, user.String(), recs[1][3])
	require.Equal(t, "2026-01-02T03:04:05Z", recs[1][4])
	require.Equal(t, "94055362075652753764", recs[2][1])
	require.Empty(t, recs[2][3])

	buf.Reset()
	require.NoError(t, WriteExport(&buf, FormatXLSX, items))
	out, err := ReadCandidates(&buf, FormatXLSX)
	require.NoError(t, err)
	require.Equal(t, []string{"Tracking Number", "9405536207565275376438", "94055362075652753764"}, out)
}
