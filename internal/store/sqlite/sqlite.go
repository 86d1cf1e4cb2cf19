package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"panorama/internal/model"
	"panorama/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000Z"

var gooseMu sync.Mutex

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) RecordRun(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_runs (
			run_id, source, url, path, status, row_count, column_count,
			first_index, last_index, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			row_count = excluded.row_count,
			column_count = excluded.column_count,
			first_index = excluded.first_index,
			last_index = excluded.last_index,
			error = excluded.error,
			finished_at = excluded.finished_at
	`,
		run.RunID,
		run.Source,
		run.URL,
		run.Path,
		string(run.Status),
		run.Rows,
		run.Columns,
		nullable(run.FirstIndex),
		nullable(run.LastIndex),
		nullable(run.Error),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: recording run %s: %w", run.RunID, err)
	}
	return nil
}

// ReplaceSnapshot swaps the stored cells of run.Source for tbl in a single
// transaction.
func (s *Store) ReplaceSnapshot(ctx context.Context, run model.Run, tbl model.Table) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM series_cells WHERE source = ?`, run.Source); err != nil {
		return fmt.Errorf("sqlite: clearing %s: %w", run.Source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series_cells (source, run_id, row_num, col_num, column_name, value_text, value_num)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range tbl.Rows {
		for j, cell := range row {
			if j >= len(tbl.Columns) {
				break
			}
			var text, num any
			switch {
			case cell.Missing:
			case cell.Numeric:
				text = cell.String()
				num = cell.Number.InexactFloat64()
			default:
				text = cell.Raw
			}
			if _, err = stmt.ExecContext(ctx, run.Source, run.RunID, i, j, tbl.Columns[j], text, num); err != nil {
				return fmt.Errorf("sqlite: storing %s row %d: %w", run.Source, i, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

// LatestRuns returns the most recent run of every source with the given
// status, ordered by source.
func (s *Store) LatestRuns(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source, url, path, status, row_count, column_count,
			first_index, last_index, error, started_at, finished_at
		FROM collection_runs r
		WHERE status = ?
			AND finished_at = (
				SELECT MAX(finished_at) FROM collection_runs
				WHERE source = r.source AND status = r.status
			)
		ORDER BY source
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]model.Run, 0)
	for rows.Next() {
		var (
			run                   model.Run
			runStatus             string
			first, last, errText  sql.NullString
			startedAt, finishedAt string
		)
		if err := rows.Scan(
			&run.RunID, &run.Source, &run.URL, &run.Path, &runStatus,
			&run.Rows, &run.Columns, &first, &last, &errText,
			&startedAt, &finishedAt,
		); err != nil {
			return nil, err
		}
		run.Status = model.RunStatus(runStatus)
		run.FirstIndex = first.String
		run.LastIndex = last.String
		run.Error = errText.String
		run.StartedAt, _ = time.Parse(timeLayout, startedAt)
		run.FinishedAt, _ = time.Parse(timeLayout, finishedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) SnapshotSize(ctx context.Context, source string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT row_num) FROM series_cells WHERE source = ?
	`, source).Scan(&count)
	return count, err
}

func (s *Store) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("sqlite: migrating: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ store.Store = (*Store)(nil)
