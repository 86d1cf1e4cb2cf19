package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"panorama/internal/model"
)

func TestGetTable(t *testing.T) {
	var gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"V":"Valor"},{"V":"1.5"},{"V":"2"}]`))
	}))
	defer server.Close()

	client := NewClient(Options{Timeout: 5 * time.Second, UserAgent: "test-agent"})
	tbl, err := client.GetTable(context.Background(), server.URL, model.ShapeHeaderMap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(tbl.Rows))
	}
	if gotUA != "test-agent" {
		t.Errorf("user agent = %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("accept = %q", gotAccept)
	}
}

func TestGetErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("error = %T %v, want *StatusError", err, err)
				}
				if statusErr.StatusCode != http.StatusInternalServerError {
					t.Errorf("status = %d", statusErr.StatusCode)
				}
				if statusErr.Body != "boom" {
					t.Errorf("body = %q", statusErr.Body)
				}
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
					t.Fatalf("error = %v, want 404 StatusError", err)
				}
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
			check: func(t *testing.T, err error) {
				var netErr *NetworkError
				if !errors.As(err, &netErr) {
					t.Fatalf("error = %T %v, want *NetworkError", err, err)
				}
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>" + strings.Repeat("x", 1000) + "</html>"))
			},
			check: func(t *testing.T, err error) {
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("error = %T %v, want *ParseError", err, err)
				}
				if len(parseErr.Snippet) != snippetLimit {
					t.Errorf("snippet length = %d, want %d", len(parseErr.Snippet), snippetLimit)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			client := NewClient(Options{Timeout: timeout})
			_, err := client.GetTable(context.Background(), server.URL, model.ShapeHeaderMap)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			tt.check(t, err)
			if URLOf(err) != server.URL {
				t.Errorf("URLOf = %q, want %q", URLOf(err), server.URL)
			}
		})
	}
}

func TestGetConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	client := NewClient(Options{Timeout: time.Second})
	_, err := client.Get(context.Background(), endpoint)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %T %v, want *NetworkError", err, err)
	}
}

func TestGetCanceledWhileRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(Options{Timeout: time.Second, RateLimitPerSec: 1, RateLimitBurst: 1})
	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("first request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, server.URL)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %T %v, want *NetworkError", err, err)
	}
}
