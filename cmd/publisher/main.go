package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panorama/internal/model"
	"panorama/internal/store/sqlite"
)

type metaFile struct {
	GeneratedAt string `json:"generated_at"`
}

type manifestFile struct {
	GeneratedAt string          `json:"generated_at"`
	Sources     []manifestEntry `json:"sources"`
}

type manifestEntry struct {
	Source      string `json:"source"`
	File        string `json:"file"`
	Path        string `json:"path"`
	Rows        int    `json:"rows"`
	Columns     int    `json:"columns"`
	FirstIndex  string `json:"first_index,omitempty"`
	LastIndex   string `json:"last_index,omitempty"`
	CollectedAt string `json:"collected_at"`
	RunID       string `json:"run_id"`
	// LastFailure is set when a failed run is newer than the published one.
	LastFailure string `json:"last_failure,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		build(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func build(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	outDir := fs.String("out", "site/data", "output directory")
	dbPath := fs.String("db", "panorama.db", "sqlite ledger path")
	fs.Parse(args)

	if strings.TrimSpace(*dbPath) == "" {
		fmt.Fprintln(os.Stderr, "db path is required")
		os.Exit(2)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "failed to create output dir:", err)
		os.Exit(1)
	}

	manifest, err := loadManifest(context.Background(), *dbPath, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load ledger:", err)
		os.Exit(1)
	}

	if err := writeJSON(filepath.Join(*outDir, "meta.json"), metaFile{GeneratedAt: manifest.GeneratedAt}); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write meta.json:", err)
		os.Exit(1)
	}
	if err := writeJSON(filepath.Join(*outDir, "manifest.json"), manifest); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write manifest.json:", err)
		os.Exit(1)
	}

	fmt.Printf("publisher build complete (out=%s, sources=%d)\n", *outDir, len(manifest.Sources))
}

func loadManifest(ctx context.Context, dbPath string, now time.Time) (manifestFile, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return manifestFile{}, fmt.Errorf("ledger %s does not exist", dbPath)
		}
		return manifestFile{}, err
	}
	st, err := sqlite.New(dbPath)
	if err != nil {
		return manifestFile{}, err
	}
	defer st.Close()

	ok, err := st.LatestRuns(ctx, model.RunOK)
	if err != nil {
		return manifestFile{}, err
	}
	failed, err := st.LatestRuns(ctx, model.RunFailed)
	if err != nil {
		return manifestFile{}, err
	}
	return buildManifest(ok, failed, now), nil
}

func buildManifest(ok, failed []model.Run, now time.Time) manifestFile {
	failures := make(map[string]model.Run, len(failed))
	for _, run := range failed {
		failures[run.Source] = run
	}

	entries := make([]manifestEntry, 0, len(ok))
	for _, run := range ok {
		entry := manifestEntry{
			Source:      run.Source,
			File:        filepath.Base(run.Path),
			Path:        run.Path,
			Rows:        run.Rows,
			Columns:     run.Columns,
			FirstIndex:  run.FirstIndex,
			LastIndex:   run.LastIndex,
			CollectedAt: formatTime(run.FinishedAt),
			RunID:       run.RunID,
		}
		if failure, found := failures[run.Source]; found && failure.FinishedAt.After(run.FinishedAt) {
			entry.LastFailure = failure.Error
		}
		entries = append(entries, entry)
	}

	return manifestFile{
		GeneratedAt: formatTime(now),
		Sources:     entries,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(path string, value any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: publisher build [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -out   output directory (default: site/data)")
	fmt.Fprintln(os.Stderr, "  -db    sqlite ledger path (default: panorama.db)")
}
