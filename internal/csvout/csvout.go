package csvout

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"panorama/internal/model"
)

// Write stores tbl as a UTF-8, comma separated file with a header row. The
// directory is created when missing and the file is replaced atomically, so a
// failed write never leaves a partial file at path.
func Write(path string, tbl model.Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("csvout: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("csvout: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(tbl.Columns); err != nil {
		return fmt.Errorf("csvout: writing header: %w", err)
	}
	record := make([]string, len(tbl.Columns))
	for i, row := range tbl.Rows {
		if len(row) != len(tbl.Columns) {
			return fmt.Errorf("csvout: row %d has %d cells, want %d", i, len(row), len(tbl.Columns))
		}
		for j, cell := range row {
			record[j] = cell.String()
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("csvout: writing row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csvout: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("csvout: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("csvout: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("csvout: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("csvout: %w", err)
	}
	committed = true
	return nil
}
