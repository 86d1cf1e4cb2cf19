package collector

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"panorama/internal/csvout"
	"panorama/internal/fetch"
	"panorama/internal/model"
	"panorama/internal/normalize"
	"panorama/internal/providers"
	"panorama/internal/store"
)

type Result struct {
	RunID      string
	Source     string
	Path       string
	URL        string
	Rows       int
	Columns    []string
	FirstIndex string
	LastIndex  string
	// Missing counts missing values per column.
	Missing map[string]int
}

type Option func(*Collector)

func WithStore(st store.Store) Option {
	return func(c *Collector) {
		if st != nil {
			c.store = st
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// Collector runs the fetch -> normalize -> persist pipeline for one source at
// a time.
type Collector struct {
	providers providers.Registry
	store     store.Store
	logger    *zap.Logger
	now       func() time.Time
}

func New(registry providers.Registry, logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		providers: registry,
		store:     &store.NopStore{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect fetches spec, normalizes the table and writes it to destination.
// On any error no file is written. An empty response returns a CollectError
// of kind KindEmpty wrapping ErrEmptyResult.
func (c *Collector) Collect(ctx context.Context, spec model.SourceSpec, destination string) (Result, error) {
	run := model.Run{
		RunID:     uuid.NewString(),
		Source:    spec.ID,
		Path:      destination,
		StartedAt: c.now(),
	}
	result := Result{RunID: run.RunID, Source: spec.ID, Path: destination}
	log := c.logger.With(zap.String("source", spec.ID), zap.String("run_id", run.RunID))

	provider, err := c.providers.Get(spec.Provider)
	if err != nil {
		return result, c.fail(ctx, log, run, &CollectError{Kind: KindSource, Source: spec.ID, Err: err})
	}
	endpoints, err := provider.Endpoints(spec)
	if err != nil {
		return result, c.fail(ctx, log, run, &CollectError{Kind: KindSource, Source: spec.ID, Err: err})
	}
	run.URL = strings.Join(endpoints, " ")
	result.URL = run.URL
	log.Info("collecting source",
		zap.String("provider", provider.Name()),
		zap.Strings("urls", endpoints),
		zap.String("destination", destination),
	)

	tbl, err := provider.FetchTable(ctx, spec)
	if err != nil {
		url := fetch.URLOf(err)
		if url == "" && len(endpoints) > 0 {
			url = endpoints[0]
		}
		return result, c.fail(ctx, log, run, &CollectError{Kind: classify(err), Source: spec.ID, URL: url, Err: err})
	}

	if len(tbl.Rows) == 0 {
		log.Warn("source returned no data rows, keeping previous output",
			zap.Strings("columns", tbl.Columns),
		)
		run.Status = model.RunEmpty
		run.Columns = len(tbl.Columns)
		c.record(ctx, log, run)
		return result, &CollectError{Kind: KindEmpty, Source: spec.ID, URL: run.URL, Err: ErrEmptyResult}
	}
	if len(tbl.Sample) > 0 {
		log.Info("first record", zap.ByteString("sample", pretty.Ugly(tbl.Sample)))
	}
	log.Info("table decoded", zap.Int("rows", len(tbl.Rows)), zap.Strings("columns", tbl.Columns))

	c.normalize(log, spec, &tbl)

	if err := csvout.Write(destination, tbl); err != nil {
		return result, c.fail(ctx, log, run, &CollectError{Kind: KindWrite, Source: spec.ID, URL: run.URL, Err: err})
	}

	result.Rows = len(tbl.Rows)
	result.Columns = append([]string(nil), tbl.Columns...)
	result.FirstIndex, result.LastIndex = indexRange(tbl)
	result.Missing = missingByColumn(tbl)

	run.Status = model.RunOK
	run.Rows = result.Rows
	run.Columns = len(result.Columns)
	run.FirstIndex = result.FirstIndex
	run.LastIndex = result.LastIndex
	c.record(ctx, log, run)
	if err := c.store.ReplaceSnapshot(ctx, run, tbl); err != nil {
		log.Warn("unable to mirror table into ledger", zap.Error(err))
	}

	log.Info("source saved",
		zap.String("path", destination),
		zap.Int("rows", result.Rows),
		zap.Int("columns", len(result.Columns)),
		zap.String("first", result.FirstIndex),
		zap.String("last", result.LastIndex),
		zap.Any("missing", result.Missing),
	)
	return result, nil
}

func (c *Collector) normalize(log *zap.Logger, spec model.SourceSpec, tbl *model.Table) {
	if collisions := normalize.Rename(tbl, spec.Rename); len(collisions) > 0 {
		log.Warn("renames skipped, name already in use", zap.Strings("columns", collisions))
	}
	if len(spec.Rename) > 0 {
		log.Debug("columns renamed", zap.Strings("columns", tbl.Columns))
	}

	if spec.DateField != "" {
		if report, ok := normalize.ReformatDates(tbl, spec.DateField, spec.DateLayout); ok && report.Count > 0 {
			log.Warn("dates kept unparsed",
				zap.String("field", report.Field),
				zap.Int("count", report.Count),
				zap.String("example", report.Example),
			)
		}
	}

	for _, field := range spec.ValueFields {
		report, ok := normalize.CoerceNumeric(tbl, field, spec.MissingTokens)
		if !ok {
			continue
		}
		if report.Invalid > 0 {
			log.Warn("non-numeric values treated as missing",
				zap.String("field", report.Field),
				zap.Int("count", report.Invalid),
				zap.String("example", report.Example),
			)
		}
		log.Debug("value field coerced", zap.String("field", field), zap.Int("numeric", report.Numeric), zap.Int("missing", report.Missing))
	}

	if spec.Period != nil {
		if report, ok := normalize.DerivePeriods(tbl, *spec.Period); ok && report.Count > 0 {
			log.Warn("period codes kept verbatim",
				zap.String("field", report.Field),
				zap.Int("count", report.Count),
				zap.String("example", report.Example),
			)
		}
	}

	if len(spec.Drop) > 0 {
		tbl.RemoveColumns(spec.Drop...)
	}
	if spec.IndexField != "" {
		tbl.MoveFirst(spec.IndexField)
	}
}

func (c *Collector) fail(ctx context.Context, log *zap.Logger, run model.Run, err *CollectError) error {
	log.Error("collection failed",
		zap.String("kind", string(err.Kind)),
		zap.String("url", err.URL),
		zap.Error(err.Err),
	)
	run.Status = model.RunFailed
	run.Error = err.Error()
	if run.URL == "" {
		run.URL = err.URL
	}
	c.record(ctx, log, run)
	return err
}

func (c *Collector) record(ctx context.Context, log *zap.Logger, run model.Run) {
	run.FinishedAt = c.now()
	// the ledger is best effort and never fails a run
	if err := c.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("unable to record run", zap.Error(err))
	}
}

type Summary struct {
	Results []Result
	Empty   []string
	Errors  []error
}

func (s Summary) Err() error {
	return errors.Join(s.Errors...)
}

// CollectAll runs every spec in order, writing each to outputDir/spec.Output.
// A failing source does not stop the others.
func (c *Collector) CollectAll(ctx context.Context, specs []model.SourceSpec, outputDir string) Summary {
	var summary Summary
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, &CollectError{Kind: KindNetwork, Source: spec.ID, Err: err})
			continue
		}
		destination := filepath.Join(outputDir, spec.Output)
		result, err := c.Collect(ctx, spec, destination)
		switch {
		case err == nil:
			summary.Results = append(summary.Results, result)
		case errors.Is(err, ErrEmptyResult):
			summary.Empty = append(summary.Empty, spec.ID)
		default:
			summary.Errors = append(summary.Errors, err)
		}
	}
	return summary
}

func indexRange(tbl model.Table) (string, string) {
	if len(tbl.Columns) == 0 || len(tbl.Rows) == 0 {
		return "", ""
	}
	first, last := "", ""
	for _, row := range tbl.Rows {
		value := row[0].String()
		if value == "" {
			continue
		}
		if first == "" || value < first {
			first = value
		}
		if last == "" || value > last {
			last = value
		}
	}
	return first, last
}

func missingByColumn(tbl model.Table) map[string]int {
	missing := make(map[string]int, len(tbl.Columns))
	for _, column := range tbl.Columns {
		missing[column] = 0
	}
	for _, row := range tbl.Rows {
		for i, cell := range row {
			if cell.Missing && i < len(tbl.Columns) {
				missing[tbl.Columns[i]]++
			}
		}
	}
	return missing
}
