package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"panorama/internal/fetch"
	"panorama/internal/model"
	"panorama/internal/providers"
	"panorama/internal/providers/sidra"
	"panorama/internal/store/sqlite"
)

func newCollector(t *testing.T, handler http.HandlerFunc, timeout time.Duration, opts ...Option) *Collector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := fetch.NewClient(fetch.Options{Timeout: timeout})
	provider, err := sidra.New(sidra.Config{BaseURL: srv.URL}, client)
	if err != nil {
		t.Fatal(err)
	}
	return New(providers.NewRegistry(provider), nil, opts...)
}

func serve(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func tableSpec(id string) model.SourceSpec {
	return model.SourceSpec{
		ID:       id,
		Provider: "sidra",
		Shape:    model.ShapeHeaderMap,
		Table: &model.TableQuery{
			Table: "1", GeoLevel: "n1", GeoCode: "1",
			Variables: "all", Periods: "all",
		},
		Rename:      map[string]string{"V": "valor", "D": "data"},
		ValueFields: []string{"valor"},
		IndexField:  "data",
		Output:      id + ".csv",
	}
}

func TestCollectHeaderMap(t *testing.T) {
	c := newCollector(t, serve(`[{"V":"value","D":"date"},{"V":"5.43","D":"2024-01-01"}]`), time.Second)
	path := filepath.Join(t.TempDir(), "out", "series.csv")

	result, err := c.Collect(context.Background(), tableSpec("series"), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data,valor\n2024-01-01,5.43\n" {
		t.Errorf("csv = %q", got)
	}
	if result.Rows != 1 || len(result.Columns) != 2 {
		t.Errorf("result = %+v", result)
	}
	if result.FirstIndex != "2024-01-01" || result.LastIndex != "2024-01-01" {
		t.Errorf("index range = %s..%s", result.FirstIndex, result.LastIndex)
	}
	if result.RunID == "" {
		t.Error("run id not set")
	}
}

func TestCollectQuarterlyTable(t *testing.T) {
	body := `[
		{"D3C":"Trimestre (Código)","D3N":"Trimestre","D4N":"Setores e subsetores","V":"Valor"},
		{"D3C":"202301","D3N":"1º trimestre 2023","D4N":"Agropecuária","V":"101.5"},
		{"D3C":"202302","D3N":"2º trimestre 2023","D4N":"Agropecuária","V":"..."},
		{"D3C":"2023XX","D3N":"?","D4N":"Agropecuária","V":"abc"}
	]`
	c := newCollector(t, serve(body), time.Second)
	spec := tableSpec("quarters")
	spec.Rename = map[string]string{
		"Trimestre (Código)":   "trimestre_codigo",
		"Trimestre":            "trimestre_nome",
		"Setores e subsetores": "setor_nome",
		"Valor":                "valor",
	}
	spec.Period = &model.PeriodSpec{
		Field:      "trimestre_codigo",
		Frequency:  model.FrequencyQuarter,
		YearField:  "ano",
		SubField:   "trimestre_num",
		LabelField: "periodo_trimestral",
	}
	spec.Drop = []string{"trimestre_codigo", "trimestre_nome", "ano", "trimestre_num"}
	spec.IndexField = "periodo_trimestral"
	path := filepath.Join(t.TempDir(), "quarters.csv")

	result, err := c.Collect(context.Background(), spec, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := os.ReadFile(path)
	want := "periodo_trimestral,setor_nome,valor\n" +
		"2023Q1,Agropecuária,101.5\n" +
		"2023Q2,Agropecuária,\n" +
		"2023XX,Agropecuária,\n"
	if string(got) != want {
		t.Errorf("csv =\n%s\nwant\n%s", got, want)
	}
	if result.Missing["valor"] != 2 {
		t.Errorf("missing valor = %d, want 2", result.Missing["valor"])
	}
}

func TestCollectEmptyKeepsPreviousFile(t *testing.T) {
	c := newCollector(t, serve(`[{"V":"value","D":"date"}]`), time.Second)
	path := filepath.Join(t.TempDir(), "series.csv")
	if err := os.WriteFile(path, []byte("data,valor\n2023-12-01,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := c.Collect(context.Background(), tableSpec("series"), path)
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
	if KindOf(err) != KindEmpty {
		t.Errorf("kind = %q", KindOf(err))
	}
	var collectErr *CollectError
	if !errors.As(err, &collectErr) || collectErr.Fatal() {
		t.Errorf("empty result should not be fatal: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "data,valor\n2023-12-01,1\n" {
		t.Errorf("previous file changed: %q", got)
	}
}

func TestCollectFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    Kind
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want: KindHTTPStatus,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: KindNetwork,
		},
		{
			name:    "invalid json",
			handler: serve(`<html>maintenance</html>`),
			want:    KindParse,
		},
		{
			name:    "invalid utf-8",
			handler: serve("[{\"V\":\"value\",\"D\":\"date\"},{\"V\":\"5.43\",\"D\":\"ab\xffcd\"}]"),
			want:    KindParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCollector(t, tt.handler, 100*time.Millisecond)
			path := filepath.Join(t.TempDir(), "series.csv")

			_, err := c.Collect(context.Background(), tableSpec("series"), path)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("kind = %q, want %q (%v)", got, tt.want, err)
			}
			var collectErr *CollectError
			if errors.As(err, &collectErr) && collectErr.URL == "" {
				t.Error("error does not carry the request url")
			}
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				t.Errorf("output file should not exist, stat err = %v", statErr)
			}
		})
	}
}

func TestCollectUnknownProvider(t *testing.T) {
	c := New(providers.NewRegistry(), nil)
	spec := tableSpec("series")
	spec.Provider = "nope"

	_, err := c.Collect(context.Background(), spec, filepath.Join(t.TempDir(), "x.csv"))
	if KindOf(err) != KindSource {
		t.Errorf("kind = %q (%v)", KindOf(err), err)
	}
}

func TestCollectAllContinuesAfterFailure(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/t/2/n1/1/v/all/p/all":
			http.Error(w, "gone", http.StatusBadGateway)
		case r.URL.Path == "/t/3/n1/1/v/all/p/all":
			_, _ = w.Write([]byte(`[{"V":"value","D":"date"}]`))
		default:
			_, _ = w.Write([]byte(`[{"V":"value","D":"date"},{"V":"1","D":"2024-01-01"}]`))
		}
	}
	c := newCollector(t, handler, time.Second)

	failing := tableSpec("failing")
	failing.Table.Table = "2"
	empty := tableSpec("empty")
	empty.Table.Table = "3"
	specs := []model.SourceSpec{failing, empty, tableSpec("good")}
	dir := t.TempDir()

	summary := c.CollectAll(context.Background(), specs, dir)
	if len(summary.Results) != 1 || summary.Results[0].Source != "good" {
		t.Errorf("results = %+v", summary.Results)
	}
	if len(summary.Empty) != 1 || summary.Empty[0] != "empty" {
		t.Errorf("empty = %v", summary.Empty)
	}
	if len(summary.Errors) != 1 || KindOf(summary.Errors[0]) != KindHTTPStatus {
		t.Errorf("errors = %v", summary.Errors)
	}
	if summary.Err() == nil {
		t.Error("summary should report the failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "good.csv")); err != nil {
		t.Errorf("good.csv not written: %v", err)
	}
}

func TestCollectRecordsLedger(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	c := newCollector(t, serve(`[{"V":"value","D":"date"},{"V":"5.43","D":"2024-01-01"},{"V":"5.50","D":"2024-01-02"}]`), time.Second, WithStore(st))
	path := filepath.Join(t.TempDir(), "series.csv")
	if _, err := c.Collect(context.Background(), tableSpec("series"), path); err != nil {
		t.Fatal(err)
	}

	runs, err := st.LatestRuns(context.Background(), model.RunOK)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %+v", runs)
	}
	run := runs[0]
	if run.Source != "series" || run.Rows != 2 || run.Path != path {
		t.Errorf("run = %+v", run)
	}
	if run.FirstIndex != "2024-01-01" || run.LastIndex != "2024-01-02" {
		t.Errorf("index range = %s..%s", run.FirstIndex, run.LastIndex)
	}

	size, err := st.SnapshotSize(context.Background(), "series")
	if err != nil {
		t.Fatal(err)
	}
	if size != 2 {
		t.Errorf("snapshot rows = %d, want 2", size)
	}
}

func TestCollectRenameCollisionKeepsHeaderUnique(t *testing.T) {
	c := newCollector(t, serve(`[{"V":"valor","X":"V"},{"V":"1","X":"2"}]`), time.Second)
	spec := tableSpec("collision")
	spec.Rename = map[string]string{"V": "valor"}
	path := filepath.Join(t.TempDir(), "collision.csv")

	if _, err := c.Collect(context.Background(), spec, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "valor,V\n1,2\n" {
		t.Errorf("csv = %q", got)
	}
}
