package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSPAHandler(t *testing.T) {
	h := SPAHandler()

	for _, path := range []string{"/", "/chats/-100"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "rolecall console") {
			t.Fatalf("GET %s: expected console page", path)
		}
	}
}

func TestSPAHandlerReservedPaths(t *testing.T) {
	h := SPAHandler()
	for _, path := range []string{"/api/unknown", "/ws/nowhere"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("expected no-cache on index, got %q", got)
	}
}
