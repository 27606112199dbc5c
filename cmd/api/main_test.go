package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name       string
		origin     string
		method     string
		wantStatus int
		wantHeader string
	}{
		{"preflight", "http://localhost:3000", http.MethodOptions, http.StatusOK, "http://localhost:3000"},
		{"passes through", "http://localhost:3000", http.MethodGet, http.StatusTeapot, "http://localhost:3000"},
		{"no origin configured", "", http.MethodGet, http.StatusTeapot, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			corsMiddleware(tt.origin, next).ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/modes", nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Fatalf("expected origin header %q, got %q", tt.wantHeader, got)
			}
		})
	}
}
