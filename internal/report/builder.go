// Package report renders the monthly emissions CSV from logged activities.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"carbon-reports/internal/models"
)

// TimestampLayout renders activity timestamps with second precision.
const TimestampLayout = "2006-01-02T15:04:05"

// Header is the fixed column order of the report.
var Header = []string{"timestamp", "category", "amount", "unit", "kg_co2e", "note"}

// ActivitySource yields activities whose timestamp lies in [start, end], oldest first.
type ActivitySource interface {
	ActivitiesBetween(ctx context.Context, start, end time.Time) ([]models.Activity, error)
}

// Builder produces report bytes for a calendar month.
type Builder struct {
	source ActivitySource
}

func NewBuilder(source ActivitySource) *Builder {
	return &Builder{source: source}
}

// MonthBounds returns the inclusive window from the first second of the month
// to the last second of its last day, in UTC.
func MonthBounds(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	// Day 0 of the next month normalises to the last day of this one.
	lastDay := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	end := time.Date(year, time.Month(month), lastDay, 23, 59, 59, 0, time.UTC)
	return start, end
}

// Build fetches the month's activities and renders them as CSV.
func (b *Builder) Build(ctx context.Context, year, month int) ([]byte, error) {
	start, end := MonthBounds(year, month)
	rows, err := b.source.ActivitiesBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch activities %04d-%02d: %w", year, month, err)
	}
	return Render(rows)
}

// Render writes the report for rows in the order given. Output depends only
// on the input, so identical rows give identical bytes.
func Render(rows []models.Activity) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	total := 0.0
	for _, r := range rows {
		note := ""
		if r.Note != nil {
			note = *r.Note
		}
		record := []string{
			r.Timestamp.Format(TimestampLayout),
			r.Category,
			FormatNumber(r.Amount),
			r.Unit,
			FormatNumber(r.KgCO2e),
			note,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
		total += r.KgCO2e
	}

	if err := w.Write([]string{}); err != nil {
		return nil, fmt.Errorf("write separator: %w", err)
	}
	if err := w.Write([]string{"TOTAL", "", "", "", FormatNumber(total), "kg CO2e"}); err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatNumber renders f with the shortest representation that round-trips,
// keeping a ".0" suffix on integral values so numeric columns read as decimals.
func FormatNumber(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
