package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name            string
		allowed         []string
		origin          string
		method          string
		wantStatus      int
		wantOrigin      string
		wantCredentials string
	}{
		{"explicit origin", []string{"https://app.example.com"}, "https://app.example.com", http.MethodGet, http.StatusTeapot, "https://app.example.com", "true"},
		{"wildcard origin", []string{"*"}, "https://other.example.com", http.MethodGet, http.StatusTeapot, "https://other.example.com", ""},
		{"disallowed origin", []string{"https://app.example.com"}, "https://evil.example.com", http.MethodGet, http.StatusTeapot, "", ""},
		{"preflight", []string{"https://app.example.com"}, "https://app.example.com", http.MethodOptions, http.StatusOK, "https://app.example.com", "true"},
		{"no origin", []string{"*"}, "", http.MethodGet, http.StatusTeapot, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/profile", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected allow-origin %q, got %q", tt.wantOrigin, got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredentials {
				t.Fatalf("expected allow-credentials %q, got %q", tt.wantCredentials, got)
			}
		})
	}
}
