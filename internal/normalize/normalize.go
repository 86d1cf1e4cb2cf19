package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"panorama/internal/model"
)

const isoDate = "2006-01-02"

var (
	DefaultMissingTokens = []string{"...", "..", "-", "X", "x"}

	ErrMalformedPeriod = errors.New("malformed period code")
)

// Rename maps columns to canonical names. The translated label is looked up
// first and the raw code second; unmatched columns keep their name. A rename
// that would duplicate an existing column name is skipped and the canonical
// name is returned in collisions.
func Rename(tbl *model.Table, rename map[string]string) (collisions []string) {
	if len(rename) == 0 {
		return nil
	}
	targets := make([]string, len(tbl.Columns))
	taken := make(map[string]struct{}, len(tbl.Columns))
	for i, column := range tbl.Columns {
		if canonical, ok := rename[column]; ok {
			targets[i] = canonical
			continue
		}
		if i < len(tbl.Codes) {
			if canonical, ok := rename[tbl.Codes[i]]; ok {
				targets[i] = canonical
				continue
			}
		}
		taken[column] = struct{}{}
	}
	for i, target := range targets {
		if target == "" {
			continue
		}
		if _, dup := taken[target]; dup && target != tbl.Columns[i] {
			collisions = append(collisions, target)
			continue
		}
		tbl.Columns[i] = target
		taken[target] = struct{}{}
	}
	return collisions
}

type Coercion struct {
	Field   string
	Numeric int
	Missing int
	// Invalid counts values that were neither a number nor a missing token.
	Invalid int
	Example string
}

// CoerceNumeric converts field to numbers. Missing tokens and unparsable
// values become missing cells. Already numeric or missing cells are kept, so
// calling it twice is a no-op.
func CoerceNumeric(tbl *model.Table, field string, tokens []string) (Coercion, bool) {
	idx := tbl.ColumnIndex(field)
	if idx < 0 {
		return Coercion{}, false
	}
	if tokens == nil {
		tokens = DefaultMissingTokens
	}
	missing := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		missing[token] = struct{}{}
	}

	report := Coercion{Field: field}
	for _, row := range tbl.Rows {
		cell := row[idx]
		switch {
		case cell.Missing:
			report.Missing++
			continue
		case cell.Numeric:
			report.Numeric++
			continue
		}

		raw := strings.TrimSpace(cell.Raw)
		if _, ok := missing[raw]; ok || raw == "" {
			row[idx] = model.MissingCell()
			report.Missing++
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			row[idx] = model.MissingCell()
			report.Missing++
			report.Invalid++
			if report.Example == "" {
				report.Example = cell.Raw
			}
			continue
		}
		row[idx] = model.NumberCell(value)
		report.Numeric++
	}
	return report, true
}

// ParsePeriodCode decodes a four-digit year followed by a sub-period digit
// group, e.g. "202304" -> {2023, 4}.
func ParsePeriodCode(code string, frequency model.Frequency) (model.Period, error) {
	code = strings.TrimSpace(code)
	if len(code) < 5 || len(code) > 6 || !isDigits(code) {
		return model.Period{}, fmt.Errorf("%w: %q", ErrMalformedPeriod, code)
	}
	year, _ := strconv.Atoi(code[:4])
	sub, _ := strconv.Atoi(code[4:])
	if sub < 1 || sub > maxSub(frequency) {
		return model.Period{}, fmt.Errorf("%w: %q (sub-period %d out of range for %s)", ErrMalformedPeriod, code, sub, frequency)
	}
	return model.Period{Year: year, Sub: sub}, nil
}

// FormatPeriod renders a period as 2023Q1, 2023-01 or 2023S1.
func FormatPeriod(period model.Period, frequency model.Frequency) string {
	switch frequency {
	case model.FrequencyMonth:
		return fmt.Sprintf("%04d-%02d", period.Year, period.Sub)
	case model.FrequencySemester:
		return fmt.Sprintf("%04dS%d", period.Year, period.Sub)
	default:
		return fmt.Sprintf("%04dQ%d", period.Year, period.Sub)
	}
}

func maxSub(frequency model.Frequency) int {
	switch frequency {
	case model.FrequencyMonth:
		return 12
	case model.FrequencySemester:
		return 2
	default:
		return 4
	}
}

// Degraded summarizes rows whose raw value was kept because it could not be
// parsed.
type Degraded struct {
	Field   string
	Count   int
	Example string
}

// DerivePeriods fills the year, sub-period and label columns from the code
// column. Malformed codes leave year and sub-period missing and copy the raw
// code verbatim into the label column.
func DerivePeriods(tbl *model.Table, spec model.PeriodSpec) (Degraded, bool) {
	src := tbl.ColumnIndex(spec.Field)
	if src < 0 {
		return Degraded{}, false
	}
	frequency := spec.Frequency
	if frequency == "" {
		frequency = model.FrequencyQuarter
	}
	yearIdx, subIdx := -1, -1
	if spec.YearField != "" {
		yearIdx = tbl.AddColumn(spec.YearField)
	}
	if spec.SubField != "" {
		subIdx = tbl.AddColumn(spec.SubField)
	}
	labelField := spec.LabelField
	if labelField == "" {
		labelField = spec.Field
	}
	labelIdx := tbl.AddColumn(labelField)

	report := Degraded{Field: spec.Field}
	for _, row := range tbl.Rows {
		raw := row[src].String()
		period, err := ParsePeriodCode(raw, frequency)
		if err != nil {
			report.Count++
			if report.Example == "" {
				report.Example = raw
			}
			if yearIdx >= 0 {
				row[yearIdx] = model.MissingCell()
			}
			if subIdx >= 0 {
				row[subIdx] = model.MissingCell()
			}
			row[labelIdx] = model.TextCell(raw)
			continue
		}
		if yearIdx >= 0 {
			row[yearIdx] = model.NumberCell(decimal.NewFromInt(int64(period.Year)))
		}
		if subIdx >= 0 {
			row[subIdx] = model.NumberCell(decimal.NewFromInt(int64(period.Sub)))
		}
		row[labelIdx] = model.TextCell(FormatPeriod(period, frequency))
	}
	return report, true
}

// ReformatDates rewrites field from layout to YYYY-MM-DD. Values that do not
// parse are kept as they are.
func ReformatDates(tbl *model.Table, field, layout string) (Degraded, bool) {
	idx := tbl.ColumnIndex(field)
	if idx < 0 || layout == "" {
		return Degraded{}, false
	}
	report := Degraded{Field: field}
	for _, row := range tbl.Rows {
		cell := row[idx]
		if cell.Missing {
			continue
		}
		parsed, err := time.Parse(layout, strings.TrimSpace(cell.Raw))
		if err != nil {
			report.Count++
			if report.Example == "" {
				report.Example = cell.Raw
			}
			continue
		}
		row[idx] = model.TextCell(parsed.Format(isoDate))
	}
	return report, true
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
