package sidra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"panorama/internal/fetch"
	"panorama/internal/model"
)

func TestEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		query   *model.TableQuery
		want    string
		wantErr bool
	}{
		{
			name: "national accounts by sector",
			query: &model.TableQuery{
				Table: "6613", GeoLevel: "n1", GeoCode: "1",
				Variables: "all", Periods: "all",
				Classification: "c11255", Categories: "all",
				Format: "v9319 2",
			},
			want: "https://apisidra.ibge.gov.br/values/t/6613/n1/1/v/all/p/all/c11255/all/d/v9319%202",
		},
		{
			name: "category list keeps commas",
			query: &model.TableQuery{
				Table: "1621", GeoLevel: "n1", GeoCode: "1",
				Variables: "584", Periods: "last 4",
				Classification: "c11255", Categories: "90687,90691",
			},
			want: "https://apisidra.ibge.gov.br/values/t/1621/n1/1/v/584/p/last%204/c11255/90687,90691",
		},
		{
			name: "no classification",
			query: &model.TableQuery{
				Table: "1737", GeoLevel: "n1", GeoCode: "all",
				Variables: "63", Periods: "202301",
			},
			want: "https://apisidra.ibge.gov.br/values/t/1737/n1/all/v/63/p/202301",
		},
		{
			name:    "missing query",
			wantErr: true,
		},
		{
			name:    "missing table id",
			query:   &model.TableQuery{GeoLevel: "n1", GeoCode: "1", Variables: "all", Periods: "all"},
			wantErr: true,
		},
	}

	provider, err := New(Config{}, fetch.NewClient(fetch.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoints, err := provider.Endpoints(model.SourceSpec{ID: "x", Table: tt.query})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(endpoints) != 1 || endpoints[0] != tt.want {
				t.Errorf("endpoints = %v, want %s", endpoints, tt.want)
			}
		})
	}
}

func TestFetchTable(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`[
			{"V":"Valor","D1C":"Trimestre (Código)"},
			{"V":"100.1","D1C":"202301"},
			{"V":"101.2","D1C":"202302"}
		]`))
	}))
	defer server.Close()

	provider, err := New(Config{BaseURL: server.URL + "/values"}, fetch.NewClient(fetch.Options{Timeout: 5 * time.Second}))
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := provider.FetchTable(context.Background(), model.SourceSpec{
		ID: "cnt",
		Table: &model.TableQuery{
			Table: "6613", GeoLevel: "n1", GeoCode: "1", Variables: "all", Periods: "all",
			Classification: "c11255", Categories: "all", Format: "v9319 2",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/values/t/6613/n1/1/v/all/p/all/c11255/all/d/v9319%202" {
		t.Errorf("path = %s", gotPath)
	}
	if len(tbl.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(tbl.Rows))
	}
	if tbl.Columns[1] != "Trimestre (Código)" {
		t.Errorf("columns = %v", tbl.Columns)
	}
}
