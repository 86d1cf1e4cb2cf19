package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ResponseShape string

const (
	ShapeHeaderMap ResponseShape = "header-map"
	ShapeRecords   ResponseShape = "records"
)

type Frequency string

const (
	FrequencyMonth    Frequency = "M"
	FrequencyQuarter  Frequency = "Q"
	FrequencySemester Frequency = "S"
)

type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunEmpty  RunStatus = "empty"
	RunFailed RunStatus = "failed"
)

type SourceSpec struct {
	ID            string            `json:"id"`
	Provider      string            `json:"provider"`
	Description   string            `json:"description,omitempty"`
	Shape         ResponseShape     `json:"shape"`
	Series        []Series          `json:"series,omitempty"`
	Table         *TableQuery       `json:"table,omitempty"`
	Start         string            `json:"start,omitempty"`
	End           string            `json:"end,omitempty"`
	Rename        map[string]string `json:"rename,omitempty"`
	ValueFields   []string          `json:"value_fields,omitempty"`
	IndexField    string            `json:"index_field,omitempty"`
	DateField     string            `json:"date_field,omitempty"`
	DateLayout    string            `json:"date_layout,omitempty"`
	Period        *PeriodSpec       `json:"period,omitempty"`
	Drop          []string          `json:"drop,omitempty"`
	MissingTokens []string          `json:"missing_tokens,omitempty"`
	Output        string            `json:"output"`
}

type Series struct {
	Name string `json:"name"`
	Code int    `json:"code"`
}

type TableQuery struct {
	Table          string `json:"table"`
	GeoLevel       string `json:"geo_level"`
	GeoCode        string `json:"geo_code"`
	Variables      string `json:"variables"`
	Periods        string `json:"periods"`
	Classification string `json:"classification,omitempty"`
	Categories     string `json:"categories,omitempty"`
	Format         string `json:"format,omitempty"`
}

// PeriodSpec derives a structured period from a compound code column such as
// "202301" (year 2023, sub-period 01).
type PeriodSpec struct {
	Field      string    `json:"field"`
	Frequency  Frequency `json:"frequency"`
	YearField  string    `json:"year_field,omitempty"`
	SubField   string    `json:"sub_field,omitempty"`
	LabelField string    `json:"label_field"`
}

type Period struct {
	Year int
	Sub  int
}

// Cell is one table value. Numeric cells render from Number, missing cells
// render empty, everything else renders Raw.
type Cell struct {
	Raw     string
	Number  decimal.Decimal
	Numeric bool
	Missing bool
}

func TextCell(raw string) Cell {
	return Cell{Raw: raw}
}

func MissingCell() Cell {
	return Cell{Missing: true}
}

func NumberCell(value decimal.Decimal) Cell {
	return Cell{Number: value, Numeric: true, Raw: value.String()}
}

func (c Cell) String() string {
	switch {
	case c.Missing:
		return ""
	case c.Numeric:
		return c.Number.String()
	default:
		return c.Raw
	}
}

// Table is an ordered row/column table. Every row has len(Columns) cells.
// Codes holds the raw field identifier each column was decoded from.
type Table struct {
	Columns []string
	Codes   []string
	Rows    [][]Cell
	// Sample is the first raw record as returned by the API.
	Sample []byte
}

func (t *Table) ColumnIndex(name string) int {
	for i, column := range t.Columns {
		if column == name {
			return i
		}
	}
	return -1
}

// AddColumn appends an empty column and returns its index. An existing column
// with the same name is reused.
func (t *Table) AddColumn(name string) int {
	if idx := t.ColumnIndex(name); idx >= 0 {
		return idx
	}
	t.Columns = append(t.Columns, name)
	t.Codes = append(t.Codes, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], MissingCell())
	}
	return len(t.Columns) - 1
}

// RemoveColumns drops the named columns, ignoring names that are absent.
func (t *Table) RemoveColumns(names ...string) {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}
	keep := make([]int, 0, len(t.Columns))
	for i, column := range t.Columns {
		if _, ok := drop[column]; !ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(t.Columns) {
		return
	}
	t.Columns = pick(t.Columns, keep)
	t.Codes = pick(t.Codes, keep)
	for i, row := range t.Rows {
		t.Rows[i] = pick(row, keep)
	}
}

// MoveFirst moves the named column to position 0 when present.
func (t *Table) MoveFirst(name string) {
	idx := t.ColumnIndex(name)
	if idx <= 0 {
		return
	}
	order := make([]int, 0, len(t.Columns))
	order = append(order, idx)
	for i := range t.Columns {
		if i != idx {
			order = append(order, i)
		}
	}
	t.Columns = pick(t.Columns, order)
	t.Codes = pick(t.Codes, order)
	for i, row := range t.Rows {
		t.Rows[i] = pick(row, order)
	}
}

func pick[T any](values []T, order []int) []T {
	out := make([]T, 0, len(order))
	for _, i := range order {
		if i < len(values) {
			out = append(out, values[i])
		}
	}
	return out
}

type Run struct {
	RunID      string
	Source     string
	URL        string
	Path       string
	Status     RunStatus
	Rows       int
	Columns    int
	FirstIndex string
	LastIndex  string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
