package metrics

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestMiddleware(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "metrics.db"))
	defer db.Close()

	m := New()
	c, err := NewCollector(db, m, nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	r := chi.NewRouter()
	r.Use(Middleware(c))
	r.Get("/api/v1/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	})

	for _, id := range []string{"a", "b", "missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/campaigns/"+id, nil))
	}

	if v := counterValue(t, m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/campaigns/{id}", "200")); v != 2 {
		t.Errorf("200 requests = %v, want 2", v)
	}
	if v := counterValue(t, m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/campaigns/{id}", "404")); v != 1 {
		t.Errorf("404 requests = %v, want 1", v)
	}
	if v := counterValue(t, m.APIErrorsTotal.WithLabelValues("not_found")); v != 1 {
		t.Errorf("not_found errors = %v, want 1", v)
	}
}

func TestMiddlewareNilCollector(t *testing.T) {
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCategorizeStatus(t *testing.T) {
	tests := map[int]string{
		500: "server_error",
		503: "server_error",
		429: "rate_limited",
		401: "auth_error",
		403: "auth_error",
		404: "not_found",
		409: "conflict",
		400: "bad_request",
		422: "client_error",
	}
	for status, want := range tests {
		if got := categorizeStatus(status); got != want {
			t.Errorf("categorizeStatus(%d) = %s, want %s", status, got, want)
		}
	}
}
