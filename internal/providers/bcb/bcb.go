package bcb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"panorama/internal/fetch"
	"panorama/internal/model"
	"panorama/internal/providers"
)

const (
	defaultBaseURL     = "https://api.bcb.gov.br/dados/serie/"
	defaultWindowYears = 10
	// DateLayout is the dd/mm/yyyy format SGS uses for both query
	// parameters and the "data" field.
	DateLayout = "02/01/2006"
	DateField  = "data"
	valueField = "valor"
	isoDate    = "2006-01-02"
)

type Config struct {
	BaseURL     string
	WindowYears int
	// Now returns the default end of the requested range.
	Now func() time.Time
}

// Provider reads series from the BCB SGS service. Each series code is
// requested separately and the results are joined on the date.
type Provider struct {
	config Config
	client *fetch.Client
}

func New(cfg Config, client *fetch.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("bcb: http client is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	if cfg.WindowYears <= 0 {
		cfg.WindowYears = defaultWindowYears
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{config: cfg, client: client}, nil
}

func (p *Provider) Name() string {
	return "bcb"
}

type window struct {
	from time.Time
	to   time.Time
}

func (p *Provider) Endpoints(spec model.SourceSpec) ([]string, error) {
	if len(spec.Series) == 0 {
		return nil, fmt.Errorf("bcb: source %s has no series codes", spec.ID)
	}
	windows, err := p.windows(spec.Start, spec.End)
	if err != nil {
		return nil, err
	}
	endpoints := make([]string, 0, len(spec.Series)*len(windows))
	for _, series := range spec.Series {
		for _, w := range windows {
			endpoints = append(endpoints, p.seriesURL(series.Code, w))
		}
	}
	return endpoints, nil
}

func (p *Provider) FetchTable(ctx context.Context, spec model.SourceSpec) (model.Table, error) {
	if len(spec.Series) == 0 {
		return model.Table{}, fmt.Errorf("bcb: source %s has no series codes", spec.ID)
	}
	windows, err := p.windows(spec.Start, spec.End)
	if err != nil {
		return model.Table{}, err
	}
	shape := spec.Shape
	if shape == "" {
		shape = model.ShapeRecords
	}

	merged := newMerge(spec.Series)
	for i, series := range spec.Series {
		for _, w := range windows {
			endpoint := p.seriesURL(series.Code, w)
			tbl, err := p.client.GetTable(ctx, endpoint, shape)
			if err != nil {
				return model.Table{}, err
			}
			if err := merged.add(i, tbl); err != nil {
				return model.Table{}, &fetch.ParseError{URL: endpoint, Err: err}
			}
		}
	}
	return merged.table(), nil
}

// windows splits [start, end] into consecutive ranges of at most WindowYears.
// Without a start date a single open range is requested.
func (p *Provider) windows(start, end string) ([]window, error) {
	if strings.TrimSpace(start) == "" {
		return []window{{}}, nil
	}
	from, err := time.Parse(isoDate, start)
	if err != nil {
		return nil, fmt.Errorf("bcb: invalid start date %q: %w", start, err)
	}
	to := p.config.Now()
	if strings.TrimSpace(end) != "" {
		to, err = time.Parse(isoDate, end)
		if err != nil {
			return nil, fmt.Errorf("bcb: invalid end date %q: %w", end, err)
		}
	}
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	if from.After(to) {
		return nil, fmt.Errorf("bcb: start date %s is after end date %s", from.Format(isoDate), to.Format(isoDate))
	}

	windows := make([]window, 0)
	for cursor := from; !cursor.After(to); {
		last := cursor.AddDate(p.config.WindowYears, 0, -1)
		if last.After(to) {
			last = to
		}
		windows = append(windows, window{from: cursor, to: last})
		cursor = last.AddDate(0, 0, 1)
	}
	return windows, nil
}

func (p *Provider) seriesURL(code int, w window) string {
	params := url.Values{}
	params.Set("formato", "json")
	if !w.from.IsZero() {
		params.Set("dataInicial", w.from.Format(DateLayout))
		params.Set("dataFinal", w.to.Format(DateLayout))
	}
	return p.config.BaseURL + "bcdata.sgs." + strconv.Itoa(code) + "/dados?" + params.Encode()
}

// merge joins per-series records into one date-indexed table.
type merge struct {
	series []model.Series
	dates  []string
	rows   map[string][]model.Cell
	sample []byte
}

func newMerge(series []model.Series) *merge {
	return &merge{series: series, rows: make(map[string][]model.Cell)}
}

func (m *merge) add(seriesIdx int, tbl model.Table) error {
	if len(tbl.Rows) == 0 {
		return nil
	}
	dateIdx := tbl.ColumnIndex(DateField)
	valueIdx := tbl.ColumnIndex(valueField)
	if dateIdx < 0 || valueIdx < 0 {
		return fmt.Errorf("bcb: records lack %q/%q fields (got %v)", DateField, valueField, tbl.Columns)
	}
	if m.sample == nil {
		m.sample = tbl.Sample
	}
	for _, row := range tbl.Rows {
		date := row[dateIdx].String()
		cells, ok := m.rows[date]
		if !ok {
			cells = make([]model.Cell, len(m.series)+1)
			cells[0] = model.TextCell(date)
			for i := 1; i < len(cells); i++ {
				cells[i] = model.MissingCell()
			}
			m.rows[date] = cells
			m.dates = append(m.dates, date)
		}
		cells[seriesIdx+1] = row[valueIdx]
	}
	return nil
}

func (m *merge) table() model.Table {
	columns := make([]string, 0, len(m.series)+1)
	columns = append(columns, DateField)
	for _, series := range m.series {
		name := series.Name
		if name == "" {
			name = strconv.Itoa(series.Code)
		}
		columns = append(columns, name)
	}

	dates := append([]string(nil), m.dates...)
	sort.SliceStable(dates, func(i, j int) bool {
		return parseDate(dates[i]).Before(parseDate(dates[j]))
	})

	rows := make([][]model.Cell, 0, len(dates))
	for _, date := range dates {
		rows = append(rows, m.rows[date])
	}
	return model.Table{
		Columns: columns,
		Codes:   append([]string(nil), columns...),
		Rows:    rows,
		Sample:  m.sample,
	}
}

func parseDate(value string) time.Time {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return parsed
}

var _ providers.Provider = (*Provider)(nil)
