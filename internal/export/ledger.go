// Package export renders a stylist's booking ledger as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"homestyle/internal/model"
)

const maxSheetName = 31

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var bookingColumns = []string{
	"ID", "Date", "Start", "End", "Duration (min)", "Status",
	"Client ID", "Services", "Address", "Special requests",
	"Multiplier", "Total",
}

type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
	bold  int
}

func newSheetWriter() (*sheetWriter, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	return &sheetWriter{file: f, bold: bold}, nil
}

func (w *sheetWriter) addSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) header(columns []string) error {
	if err := w.write(toRow(columns)); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, w.row-1)
	last, _ := excelize.CoordinatesToCellName(len(columns), w.row-1)
	return w.file.SetCellStyle(w.sheet, first, last, w.bold)
}

func (w *sheetWriter) write(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", w.row, err)
	}
	w.row++
	return nil
}

func toRow(columns []string) []any {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	return row
}

// WriteLedger writes bookings and a per-status summary to out. Times are
// rendered in loc.
func WriteLedger(out io.Writer, stylist *model.Stylist, bookings []model.Booking, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	w, err := newSheetWriter()
	if err != nil {
		return err
	}
	defer func() { _ = w.file.Close() }()

	if err := w.addSheet("Bookings"); err != nil {
		return err
	}
	if err := w.header(bookingColumns); err != nil {
		return err
	}

	type totals struct {
		count   int
		revenue float64
	}
	byStatus := make(map[model.BookingStatus]*totals)

	for _, b := range bookings {
		start := b.ScheduledAt.In(loc)
		end := b.EndTime().In(loc)
		row := []any{
			b.ID,
			start.Format(model.DateLayout),
			start.Format("15:04"),
			end.Format("15:04"),
			b.Duration,
			string(b.Status),
			b.ClientID,
			joinIDs(b.ServiceIDs),
			b.ClientAddress,
			b.SpecialRequests,
			b.PriceMultiplier,
			b.TotalPrice,
		}
		if err := w.write(row); err != nil {
			return err
		}

		t := byStatus[b.Status]
		if t == nil {
			t = &totals{}
			byStatus[b.Status] = t
		}
		t.count++
		t.revenue += b.TotalPrice
	}

	if err := w.addSheet("Summary"); err != nil {
		return err
	}
	if err := w.write([]any{"Stylist", stylist.Name}); err != nil {
		return err
	}
	if err := w.write([]any{"Generated", time.Now().In(loc).Format(time.RFC3339)}); err != nil {
		return err
	}
	w.row++
	if err := w.header([]string{"Status", "Bookings", "Total"}); err != nil {
		return err
	}
	for _, status := range []model.BookingStatus{
		model.StatusPending, model.StatusConfirmed, model.StatusInProgress,
		model.StatusCompleted, model.StatusCancelled,
	} {
		t := byStatus[status]
		if t == nil {
			t = &totals{}
		}
		if err := w.write([]any{string(status), t.count, t.revenue}); err != nil {
			return err
		}
	}

	idx, err := w.file.GetSheetIndex("Bookings")
	if err == nil {
		w.file.SetActiveSheet(idx)
	}
	return w.file.Write(out)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
