package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/health", "/health"},
		{"/conversations", "/conversations"},
		{"/conversations/", "/conversations/"},
		{"/conversations/8d9f1b2c", "/conversations/:id"},
		{"/conversations/8d9f1b2c/messages", "/conversations/:id/messages"},
		{"/conversations/8d9f1b2c/admin-messages", "/conversations/:id/admin-messages"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Errorf("normalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:12345"
	if got := RealIP(r); got != "10.0.0.1" {
		t.Errorf("RealIP from RemoteAddr = %q", got)
	}

	r.Header.Set("X-Real-IP", "172.16.0.2")
	if got := RealIP(r); got != "172.16.0.2" {
		t.Errorf("RealIP from X-Real-IP = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := RealIP(r); got != "203.0.113.9" {
		t.Errorf("RealIP from X-Forwarded-For = %q", got)
	}
}

func TestValidateRequestContentType(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := ValidateRequest(next)

	r := httptest.NewRequest(http.MethodPost, "/conversations", nil)
	r.ContentLength = 10
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/conversations", nil)
	r.ContentLength = 0 // empty body needs no content-type
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}
