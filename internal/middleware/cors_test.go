package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name        string
		origins     []string
		origin      string
		method      string
		wantOrigin  string
		wantCreds   string
		wantStatus  int
		wantHeaders string
	}{
		{"wildcard", []string{"*"}, "https://app.example.com", http.MethodPost, "https://app.example.com", "", http.StatusTeapot, "Content-Type, X-Logistics-Session-ID"},
		{"explicit", []string{"https://app.example.com"}, "https://app.example.com", http.MethodPost, "https://app.example.com", "true", http.StatusTeapot, "Content-Type, X-Logistics-Session-ID"},
		{"explicit after wildcard", []string{"*", "https://app.example.com"}, "https://app.example.com", http.MethodGet, "https://app.example.com", "true", http.StatusTeapot, "Content-Type, X-Logistics-Session-ID"},
		{"foreign", []string{"https://app.example.com"}, "https://evil.example.com", http.MethodPost, "", "", http.StatusTeapot, ""},
		{"preflight", []string{"*"}, "https://app.example.com", http.MethodOptions, "https://app.example.com", "", http.StatusNoContent, "Content-Type, X-Logistics-Session-ID"},
	}
	for _, tt := range tests {
		h := CORS(tt.origins, "X-Logistics-Session-ID")(next)
		req := httptest.NewRequest(tt.method, "/api/chat", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.wantStatus)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
			t.Errorf("%s: allow-origin = %q, want %q", tt.name, got, tt.wantOrigin)
		}
		if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
			t.Errorf("%s: allow-credentials = %q, want %q", tt.name, got, tt.wantCreds)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != tt.wantHeaders {
			t.Errorf("%s: allow-headers = %q, want %q", tt.name, got, tt.wantHeaders)
		}
	}
}
