package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func TestConsoleHandler(t *testing.T) {
	t.Parallel()
	root := fstest.MapFS{
		"index.html": {Data: []byte("<title>console</title>")},
		"app.js":     {Data: []byte("console.log(1)")},
	}
	h := consoleHandler(root)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
	}{
		{"root", "/", http.StatusOK, "<title>console</title>"},
		{"asset", "/app.js", http.StatusOK, "console.log(1)"},
		{"client route falls back", "/trips/42", http.StatusOK, "<title>console</title>"},
		{"api stays 404", "/api/missing", http.StatusNotFound, ""},
		{"ws stays 404", "/ws/other", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestConsoleEmbedsIndex(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	Console().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Logistics Assistant") {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
