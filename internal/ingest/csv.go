// Package ingest loads OHLCV series from CSV files.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rewired-gh/tradeguard/internal/logger"
	"github.com/rewired-gh/tradeguard/internal/models"
)

// UnknownSymbol is used when neither the caller nor the file names a symbol.
const UnknownSymbol = "UNKNOWN"

var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrNoValidRows    = errors.New("no valid data rows after cleaning")
)

// Column aliases, tried in order after the canonical name itself.
var columnAliases = map[string][]string{
	"date":   {"date", "datetime", "timestamp", "time"},
	"open":   {"open", "opening", "open_price"},
	"high":   {"high", "high_price", "max"},
	"low":    {"low", "low_price", "min"},
	"close":  {"close", "closing", "close_price", "price"},
	"volume": {"volume", "vol", "trading_volume", "quantity"},
}

var requiredColumns = []string{"date", "open", "high", "low", "close", "volume"}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"20060102",
}

// record is one parsed CSV line.
type record struct {
	Symbol string    `validate:"required,printascii,max=32"`
	Date   time.Time `validate:"required"`
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// quality carries the data-quality rules a well-formed bar should satisfy.
// Violations are warnings, not drops.
type quality struct {
	Open   float64 `validate:"gte=0"`
	High   float64 `validate:"gte=0,gtefield=Low,gtefield=Close"`
	Low    float64 `validate:"gte=0,ltefield=Close"`
	Close  float64 `validate:"gte=0"`
	Volume float64 `validate:"gte=0"`
}

// Dataset is one symbol's series plus what was discarded or looked suspect on
// the way in.
type Dataset struct {
	Series   models.Series
	Dropped  int
	Warnings []string
}

var validate = validator.New()

// LoadFile reads a CSV file. See ReadCSV.
func LoadFile(path, symbol string) ([]Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := ReadCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV parses OHLCV rows from r. Headers are matched case-insensitively
// with common aliases. Rows with a missing or non-numeric OHLCV value are
// dropped; an unparsable date fails the whole read. A non-empty symbol
// overrides any symbol column. Rows are grouped per symbol in first-seen
// order and sorted by date.
func ReadCSV(r io.Reader, symbol string) ([]Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoValidRows
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}
	symbolCol, hasSymbol := cols["symbol"]
	override := strings.ToUpper(strings.TrimSpace(symbol))

	groups := make(map[string]*Dataset)
	var order []string
	line := 1
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		sym := override
		if sym == "" && hasSymbol && symbolCol < len(fields) {
			sym = strings.ToUpper(strings.TrimSpace(fields[symbolCol]))
		}
		if sym == "" {
			sym = UnknownSymbol
		}
		ds, ok := groups[sym]
		if !ok {
			ds = &Dataset{Series: models.Series{Symbol: sym}}
			groups[sym] = ds
			order = append(order, sym)
		}

		rec, ok, err := parseRow(fields, cols, sym)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			ds.Dropped++
			continue
		}
		if err := validate.Struct(rec); err != nil {
			logger.Debug("Dropping line %d: %v", line, err)
			ds.Dropped++
			continue
		}
		ds.Series.Bars = append(ds.Series.Bars, models.Bar{
			Date: rec.Date, Open: rec.Open, High: rec.High, Low: rec.Low, Close: rec.Close, Volume: rec.Volume,
		})
	}

	var out []Dataset
	for _, sym := range order {
		ds := groups[sym]
		if ds.Series.Len() == 0 {
			logger.Warn("No valid rows for %s (%d dropped)", sym, ds.Dropped)
			continue
		}
		sort.SliceStable(ds.Series.Bars, func(i, j int) bool {
			return ds.Series.Bars[i].Date.Before(ds.Series.Bars[j].Date)
		})
		ds.Warnings = Check(ds.Series)
		logger.Info("Parsed %d records for %s (%d dropped)", ds.Series.Len(), sym, ds.Dropped)
		out = append(out, *ds)
	}
	if len(out) == 0 {
		return nil, ErrNoValidRows
	}
	return out, nil
}

func resolveColumns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	cols := make(map[string]int, len(requiredColumns)+1)
	var missing []string
	for _, req := range requiredColumns {
		found := false
		for _, alias := range columnAliases[req] {
			if i, ok := index[alias]; ok {
				cols[req] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	if i, ok := index["symbol"]; ok {
		cols["symbol"] = i
	}
	return cols, nil
}

// parseRow returns ok=false for a row to drop and an error for a row that
// makes the file unusable.
func parseRow(fields []string, cols map[string]int, symbol string) (record, bool, error) {
	rec := record{Symbol: symbol}

	get := func(name string) string {
		i := cols[name]
		if i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	date, err := parseDate(get("date"))
	if err != nil {
		return rec, false, err
	}
	rec.Date = date

	targets := []struct {
		name string
		dst  *float64
	}{
		{"open", &rec.Open},
		{"high", &rec.High},
		{"low", &rec.Low},
		{"close", &rec.Close},
		{"volume", &rec.Volume},
	}
	for _, t := range targets {
		v, err := strconv.ParseFloat(get(t.name), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return rec, false, nil
		}
		*t.dst = v
	}
	return rec, true, nil
}

// parseDate accepts the layouts in dateLayouts and truncates to the
// calendar day in UTC.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Check reports data-quality problems: negative values, inconsistent
// high/low/close and duplicate dates. The series is still analyzable.
func Check(series models.Series) []string {
	var warnings []string
	seen := make(map[string]int, len(series.Bars))
	for i, b := range series.Bars {
		q := quality{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
		if err := validate.Struct(q); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					warnings = append(warnings, describe(i, b.Date, fe))
				}
			}
		}
		day := b.Date.Format("2006-01-02")
		if first, dup := seen[day]; dup {
			warnings = append(warnings, fmt.Sprintf("bar %d (%s): duplicate date, first seen at bar %d", i, day, first))
		} else {
			seen[day] = i
		}
	}
	return warnings
}

func describe(i int, date time.Time, fe validator.FieldError) string {
	day := date.Format("2006-01-02")
	field := strings.ToLower(fe.Field())
	var msg string
	switch fe.Tag() {
	case "gte":
		msg = fmt.Sprintf("negative %s", field)
	case "gtefield":
		msg = fmt.Sprintf("%s lower than %s", field, strings.ToLower(fe.Param()))
	case "ltefield":
		msg = fmt.Sprintf("%s higher than %s", field, strings.ToLower(fe.Param()))
	default:
		msg = fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
	return fmt.Sprintf("bar %d (%s): %s", i, day, msg)
}
